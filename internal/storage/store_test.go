package storage

import (
	"context"
	"testing"
	"time"

	"covsim/internal/model"
)

func sampleRun(id string, created time.Time) model.RunRecord {
	return model.RunRecord{
		VersionedRecord:   Versioned(),
		ID:                id,
		CreatedAt:         created,
		Seed:              7,
		Input:             "ATGAAATAA",
		Target:            "ATGAAATAACCC",
		Scorer:            "identity",
		LengthPenalty:     1,
		ReplicatesPerSeed: 10,
		TopN:              2,
		Cycles:            3,
		Mutation:          model.MutationSettings{SubstitutionRate: 0.01, SubstitutionRatio: 0.66, TransitionRatio: 0.66, InsertionBias: 0.5, IndelMin: 1, IndelMax: 1},
		State:             "completed",
	}
}

func sampleCycle(runID string, cycle int) (model.CycleSummary, []model.SelectedSequence) {
	summary := model.CycleSummary{
		VersionedRecord: Versioned(),
		RunID:           runID,
		Cycle:           cycle,
		Candidates:      10,
		BestID:          "c1-s0-r3",
		BestSequence:    "ATGAAATAAC",
		BestScore:       8 + float64(cycle),
		MeanScore:       5.5,
		MaxScore:        12,
		Retained:        1,
	}
	selected := []model.SelectedSequence{
		{VersionedRecord: Versioned(), RunID: runID, Cycle: cycle, Rank: 0, ID: "c1-s0-r3", ParentID: "input", Sequence: "ATGAAATAAC", Score: summary.BestScore},
		{VersionedRecord: Versioned(), RunID: runID, Cycle: cycle, Rank: 1, ID: "c1-s0-r1", ParentID: "input", Sequence: "ATGAAATAA", Score: 6},
	}
	return summary, selected
}

// exerciseStore runs the shared contract against any backend.
func exerciseStore(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	older := sampleRun("run-a", base)
	newer := sampleRun("run-b", base.Add(time.Minute))
	for _, run := range []model.RunRecord{older, newer} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run %s: %v", run.ID, err)
		}
	}

	loaded, ok, err := store.GetRun(ctx, "run-a")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !ok || loaded.Target != older.Target || loaded.Mutation != older.Mutation || !loaded.CreatedAt.Equal(older.CreatedAt) {
		t.Fatalf("unexpected run loaded: ok=%t run=%+v", ok, loaded)
	}
	if _, ok, err := store.GetRun(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing run, ok=%t err=%v", ok, err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-b" || runs[1].ID != "run-a" {
		t.Fatalf("expected newest first, got %+v", runs)
	}

	for _, cycle := range []int{1, 0} {
		summary, selected := sampleCycle("run-a", cycle)
		if err := store.SaveCycle(ctx, summary, selected); err != nil {
			t.Fatalf("save cycle %d: %v", cycle, err)
		}
	}
	overwrite, overwriteSelected := sampleCycle("run-a", 1)
	overwrite.BestScore = 11
	if err := store.SaveCycle(ctx, overwrite, overwriteSelected[:1]); err != nil {
		t.Fatalf("overwrite cycle: %v", err)
	}

	history, ok, err := store.GetHistory(ctx, "run-a")
	if err != nil || !ok {
		t.Fatalf("get history: ok=%t err=%v", ok, err)
	}
	if len(history) != 2 || history[0].Cycle != 0 || history[1].Cycle != 1 || history[1].BestScore != 11 {
		t.Fatalf("unexpected history: %+v", history)
	}

	selected, ok, err := store.GetSelected(ctx, "run-a", 1)
	if err != nil || !ok {
		t.Fatalf("get selected: ok=%t err=%v", ok, err)
	}
	if len(selected) != 1 || selected[0].ID != "c1-s0-r3" {
		t.Fatalf("unexpected selected: %+v", selected)
	}
	if _, ok, err := store.GetSelected(ctx, "run-a", 9); err != nil || ok {
		t.Fatalf("expected missing cycle, ok=%t err=%v", ok, err)
	}
	if _, ok, err := store.GetHistory(ctx, "run-b"); err != nil || ok {
		t.Fatalf("expected no history for run-b, ok=%t err=%v", ok, err)
	}

	mismatched, mismatchedSelected := sampleCycle("run-a", 2)
	mismatchedSelected[0].Cycle = 3
	if err := store.SaveCycle(ctx, mismatched, mismatchedSelected); err == nil {
		t.Fatal("expected error for selected sequence from another cycle")
	}
}
