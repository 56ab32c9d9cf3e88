package stats

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/floats"

	"covsim/internal/evo"
	"covsim/internal/fasta"
	"covsim/internal/seq"
)

var cycleResultsHeader = []string{
	"Cycle", "InputSequence", "SelectedSequence",
	"InputProteinSimilarity", "StepwiseProteinSimilarity", "TargetProteinSimilarity",
	"InputProteinSequence", "OutputProteinSequence",
}

// TrendPoint holds the spread of protein similarity across one cycle's
// selected population, against the target and against the original input.
type TrendPoint struct {
	Cycle     int     `json:"cycle"`
	TargetMax float64 `json:"target_max"`
	TargetMin float64 `json:"target_min"`
	InputMax  float64 `json:"input_max"`
	InputMin  float64 `json:"input_min"`
}

func BuildTrend(input, target seq.Sequence, history []evo.CycleRecord) []TrendPoint {
	points := make([]TrendPoint, 0, len(history))
	for _, record := range history {
		if len(record.Selected) == 0 {
			continue
		}
		toTarget := make([]float64, len(record.Selected))
		toInput := make([]float64, len(record.Selected))
		for i, item := range record.Selected {
			toTarget[i] = evo.ProteinSimilarity(item.Sequence, target)
			toInput[i] = evo.ProteinSimilarity(item.Sequence, input)
		}
		points = append(points, TrendPoint{
			Cycle:     record.Cycle + 1,
			TargetMax: floats.Max(toTarget),
			TargetMin: floats.Min(toTarget),
			InputMax:  floats.Max(toInput),
			InputMin:  floats.Min(toInput),
		})
	}
	return points
}

// WriteCycleResults writes one row per selected sequence per cycle. The
// input column is the sequence the selection was replicated from.
func WriteCycleResults(w io.Writer, input, target seq.Sequence, seeds []evo.ScoredSequence, history []evo.CycleRecord) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(cycleResultsHeader); err != nil {
		return err
	}

	population := seeds
	for _, record := range history {
		for _, item := range record.Selected {
			parent := item.Sequence
			if item.SeedIndex >= 0 && item.SeedIndex < len(population) {
				parent = population[item.SeedIndex].Sequence
			}
			if err := writer.Write([]string{
				strconv.Itoa(record.Cycle + 1),
				parent.String(),
				item.Sequence.String(),
				percent(evo.ProteinSimilarity(item.Sequence, input)),
				percent(evo.ProteinSimilarity(item.Sequence, parent)),
				percent(evo.ProteinSimilarity(item.Sequence, target)),
				parent.Translate(),
				item.Sequence.Translate(),
			}); err != nil {
				return err
			}
		}
		population = record.Selected
	}
	writer.Flush()
	return writer.Error()
}

func WriteFinalBest(w io.Writer, input, best seq.Sequence) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Input_DNA", "Best_DNA", "Input_Protein", "Best_Protein"}); err != nil {
		return err
	}
	if err := writer.Write([]string{input.String(), best.String(), input.Translate(), best.Translate()}); err != nil {
		return err
	}
	writer.Flush()
	return writer.Error()
}

// periodicBest picks the best selected sequence of every n-th cycle.
func periodicBest(target seq.Sequence, history []evo.CycleRecord, n int) []fasta.Record {
	var records []fasta.Record
	for _, record := range history {
		if (record.Cycle+1)%n != 0 || len(record.Selected) == 0 {
			continue
		}
		best := record.Selected[0]
		desc := fmt.Sprintf("id=%s score=%s sim=%.2f",
			best.ID, strconv.FormatFloat(best.Score, 'f', -1, 64), evo.ProteinSimilarity(best.Sequence, target))
		records = append(records, fasta.Record{
			ID:          fmt.Sprintf("Cycle%d_best_replicate", record.Cycle+1),
			Description: desc,
			Sequence:    best.Sequence,
		})
	}
	return records
}

func writeBestReplicates(w io.Writer, records []fasta.Record) error {
	return fasta.Write(w, records)
}

func percent(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}
