package evo

import (
	"fmt"

	"covsim/internal/seq"
)

// Scorer measures closeness of a candidate to the target. Higher is closer.
// Implementations are pure: equal inputs always give equal scores. Exact
// reports a match to the target; an exact candidate always scores Max, but a
// Max score alone does not imply a match when the length penalty is zero.
type Scorer interface {
	Name() string
	Score(candidate, target seq.Sequence) float64
	Max(target seq.Sequence) float64
	Exact(candidate, target seq.Sequence) bool
}

// IdentityScorer counts position-wise identities over the overlapping length
// and subtracts LengthPenalty for every unit of length difference.
type IdentityScorer struct {
	LengthPenalty float64
}

func NewIdentityScorer() IdentityScorer {
	return IdentityScorer{LengthPenalty: 1}
}

func (IdentityScorer) Name() string {
	return "identity"
}

func (s IdentityScorer) Score(candidate, target seq.Sequence) float64 {
	return identityScore(candidate.String(), target.String(), s.LengthPenalty)
}

func (IdentityScorer) Max(target seq.Sequence) float64 {
	return float64(target.Len())
}

func (IdentityScorer) Exact(candidate, target seq.Sequence) bool {
	return candidate.Equal(target)
}

// ProteinScorer applies the identity metric to the translated products, so
// synonymous substitutions cost nothing.
type ProteinScorer struct {
	LengthPenalty float64
}

func NewProteinScorer() ProteinScorer {
	return ProteinScorer{LengthPenalty: 1}
}

func (ProteinScorer) Name() string {
	return "protein"
}

func (s ProteinScorer) Score(candidate, target seq.Sequence) float64 {
	return identityScore(candidate.Translate(), target.Translate(), s.LengthPenalty)
}

func (ProteinScorer) Max(target seq.Sequence) float64 {
	return float64(len(target.Translate()))
}

// Exact treats synonymous variants of the target as a match.
func (ProteinScorer) Exact(candidate, target seq.Sequence) bool {
	return candidate.Translate() == target.Translate()
}

func ScorerFromName(name string, lengthPenalty float64) (Scorer, error) {
	if lengthPenalty < 0 {
		return nil, &InvalidConfigError{Fields: []FieldError{{
			Field:  "length_penalty",
			Reason: fmt.Sprintf("must be >= 0, got %v", lengthPenalty),
		}}}
	}
	switch name {
	case "", "identity":
		return IdentityScorer{LengthPenalty: lengthPenalty}, nil
	case "protein":
		return ProteinScorer{LengthPenalty: lengthPenalty}, nil
	default:
		return nil, &InvalidConfigError{Fields: []FieldError{{Field: "scorer", Reason: "unsupported scorer: " + name}}}
	}
}

// Similarity expresses a score as a percentage of the attainable maximum,
// floored at zero.
func Similarity(score, max float64) float64 {
	if max <= 0 {
		return 0
	}
	pct := score / max * 100
	if pct < 0 {
		return 0
	}
	return pct
}

// ProteinSimilarity scores a global alignment of the translations of a and b
// (match 1, mismatch and gap 0) relative to the longer protein, as a
// percentage. Used for reports.
func ProteinSimilarity(a, b seq.Sequence) float64 {
	pa, pb := a.Translate(), b.Translate()
	if pa == "" || pb == "" {
		return 0
	}
	if pa == pb {
		return 100
	}
	return Similarity(float64(alignmentScore(pa, pb)), float64(max(len(pa), len(pb))))
}

// alignmentScore is the optimal global alignment score with unit matches and
// free mismatches and gaps, i.e. the longest common subsequence length.
func alignmentScore(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

func identityScore(a, b string, penalty float64) float64 {
	overlap := len(a)
	diff := len(b) - len(a)
	if len(b) < overlap {
		overlap = len(b)
		diff = len(a) - len(b)
	}
	matches := 0
	for i := 0; i < overlap; i++ {
		if a[i] == b[i] {
			matches++
		}
	}
	return float64(matches) - penalty*float64(diff)
}
