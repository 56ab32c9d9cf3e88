package evo

import "sort"

// Rank orders candidates by score descending. Equal scores keep generation
// order, so selection is deterministic for a fixed random stream.
func Rank(candidates []ScoredSequence) []ScoredSequence {
	ranked := make([]ScoredSequence, len(candidates))
	copy(ranked, candidates)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// SelectTop returns the first n ranked candidates.
func SelectTop(ranked []ScoredSequence, n, cycle int) ([]ScoredSequence, error) {
	if len(ranked) == 0 {
		return nil, &EmptyPopulationError{Cycle: cycle}
	}
	if n > len(ranked) {
		return nil, &EmptyPopulationError{Cycle: cycle, Want: n, Have: len(ranked)}
	}
	selected := make([]ScoredSequence, n)
	copy(selected, ranked[:n])
	return selected, nil
}
