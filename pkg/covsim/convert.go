package covsim

import (
	"fmt"

	"covsim/internal/evo"
	"covsim/internal/model"
	"covsim/internal/seq"
	"covsim/internal/storage"
)

func mutationSettings(cfg evo.MutationConfig) model.MutationSettings {
	return model.MutationSettings{
		SubstitutionRate:   cfg.SubstitutionRate,
		SubstitutionRatio:  cfg.SubstitutionRatio,
		TransitionRatio:    cfg.TransitionRatio,
		InsertionBias:      cfg.InsertionBias,
		IndelMin:           cfg.IndelLength.Min,
		IndelMax:           cfg.IndelLength.Max,
		EventsPerReplicate: cfg.EventsPerReplicate,
	}
}

func mutationConfig(settings model.MutationSettings) evo.MutationConfig {
	return evo.MutationConfig{
		SubstitutionRate:   settings.SubstitutionRate,
		SubstitutionRatio:  settings.SubstitutionRatio,
		TransitionRatio:    settings.TransitionRatio,
		InsertionBias:      settings.InsertionBias,
		IndelLength:        evo.LengthRange{Min: settings.IndelMin, Max: settings.IndelMax},
		EventsPerReplicate: settings.EventsPerReplicate,
	}
}

func cycleSummary(runID string, record evo.CycleRecord) model.CycleSummary {
	best := record.Best()
	return model.CycleSummary{
		VersionedRecord:  storage.Versioned(),
		RunID:            runID,
		Cycle:            record.Cycle,
		Candidates:       len(record.Ranked),
		BestID:           best.ID,
		BestSequence:     best.Sequence.String(),
		BestScore:        record.BestScore,
		MeanScore:        record.MeanScore,
		MinSelectedScore: record.MinSelectedScore,
		MaxScore:         record.MaxScore,
		PerfectMatch:     record.PerfectMatch,
		Retained:         record.Retained,
	}
}

func selectedRecords(runID string, record evo.CycleRecord) []model.SelectedSequence {
	out := make([]model.SelectedSequence, 0, len(record.Selected))
	for rank, item := range record.Selected {
		out = append(out, model.SelectedSequence{
			VersionedRecord: storage.Versioned(),
			RunID:           runID,
			Cycle:           record.Cycle,
			Rank:            rank,
			ID:              item.ID,
			ParentID:        item.ParentID,
			SeedIndex:       item.SeedIndex,
			Sequence:        item.Sequence.String(),
			Score:           item.Score,
		})
	}
	return out
}

func scoredSequences(selected []model.SelectedSequence) ([]evo.ScoredSequence, error) {
	out := make([]evo.ScoredSequence, 0, len(selected))
	for _, item := range selected {
		s, err := seq.Parse(item.Sequence)
		if err != nil {
			return nil, fmt.Errorf("stored sequence %s: %w", item.ID, err)
		}
		out = append(out, evo.ScoredSequence{
			ID:        item.ID,
			ParentID:  item.ParentID,
			SeedIndex: item.SeedIndex,
			Sequence:  s,
			Score:     item.Score,
		})
	}
	return out, nil
}
