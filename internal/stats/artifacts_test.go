package stats

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"covsim/internal/evo"
	"covsim/internal/fasta"
	"covsim/internal/seq"
)

func sampleArtifacts(t *testing.T, cycles int) RunArtifacts {
	t.Helper()
	mutation := evo.DefaultMutationConfig()
	mutation.SubstitutionRate = 0.2
	input := seq.MustParse("ATGAAACCCGGGTAA")
	target := seq.MustParse("ATGGGGCCCAAATAA")
	controller, err := evo.NewController(evo.ControllerConfig{
		Mutation: mutation,
		Cycle:    evo.CycleConfig{ReplicatesPerSeed: 5, TopN: 3, Cycles: cycles, Target: target},
		Seed:     17,
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	result, err := controller.Run(context.Background(), input)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	return RunArtifacts{
		Config: RunConfig{
			RunID:             "run-123",
			Input:             input.String(),
			Target:            target.String(),
			Scorer:            "identity",
			LengthPenalty:     1,
			ReplicatesPerSeed: 5,
			TopN:              3,
			Cycles:            cycles,
			Mutation:          mutation,
			Seed:              17,
			FastaEvery:        2,
			CreatedAtUTC:      "2024-01-01T00:00:00Z",
		},
		State:   result.State,
		Input:   input,
		Target:  target,
		Seeds:   []evo.ScoredSequence{{ID: evo.InputID, Sequence: input}},
		History: result.History,
	}
}

func TestWriteAndExportRunArtifacts(t *testing.T) {
	baseDir := t.TempDir()
	outDir := filepath.Join(t.TempDir(), "exports")
	artifacts := sampleArtifacts(t, 4)
	if len(artifacts.History) < 2 {
		t.Fatalf("expected at least two cycles, got %d", len(artifacts.History))
	}

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	files := []string{ConfigFile, HistoryFile, CycleResultsFile, BestReplicatesFile, FinalBestFile, TrendPlotFile}
	for _, file := range files {
		info, err := os.Stat(filepath.Join(runDir, file))
		if err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
		if info.Size() == 0 {
			t.Fatalf("expected non-empty %s", file)
		}
	}

	history, ok, err := ReadRunHistory(baseDir, "run-123")
	if err != nil || !ok {
		t.Fatalf("read history: ok=%t err=%v", ok, err)
	}
	if len(history.Cycles) != len(artifacts.History) || history.Cycles[0].Cycle != 1 {
		t.Fatalf("unexpected history: %+v", history.Cycles)
	}
	if history.Best == nil || len(history.Trend) != len(artifacts.History) {
		t.Fatalf("expected best and trend in history: %+v", history)
	}

	if err := os.WriteFile(filepath.Join(runDir, LogFile), []byte("level=INFO msg=done\n"), 0o644); err != nil {
		t.Fatalf("write log: %v", err)
	}
	exportedDir, err := ExportRunArtifacts(baseDir, "run-123", outDir)
	if err != nil {
		t.Fatalf("export artifacts: %v", err)
	}
	for _, file := range append(files, LogFile) {
		if _, err := os.Stat(filepath.Join(exportedDir, file)); err != nil {
			t.Fatalf("expected exported file %s: %v", file, err)
		}
	}

	if _, err := ExportRunArtifacts(baseDir, "missing", outDir); err == nil {
		t.Fatal("expected error exporting unknown run")
	}
}

func TestWriteRunArtifactsWithEmptyHistory(t *testing.T) {
	baseDir := t.TempDir()
	artifacts := sampleArtifacts(t, 1)
	artifacts.History = nil
	artifacts.State = evo.StateAborted

	runDir, err := WriteRunArtifacts(baseDir, artifacts)
	if err != nil {
		t.Fatalf("write artifacts: %v", err)
	}
	for _, file := range []string{ConfigFile, HistoryFile, CycleResultsFile} {
		if _, err := os.Stat(filepath.Join(runDir, file)); err != nil {
			t.Fatalf("expected file %s: %v", file, err)
		}
	}
	for _, file := range []string{FinalBestFile, TrendPlotFile, BestReplicatesFile} {
		if _, err := os.Stat(filepath.Join(runDir, file)); !os.IsNotExist(err) {
			t.Fatalf("expected no %s for empty history, err=%v", file, err)
		}
	}
	if _, err := WriteRunArtifacts(baseDir, RunArtifacts{}); err == nil {
		t.Fatal("expected error for missing run id")
	}
}

func TestCycleResultsRows(t *testing.T) {
	artifacts := sampleArtifacts(t, 3)
	var buf bytes.Buffer
	if err := WriteCycleResults(&buf, artifacts.Input, artifacts.Target, artifacts.Seeds, artifacts.History); err != nil {
		t.Fatalf("write cycle results: %v", err)
	}
	rows, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if strings.Join(rows[0], ",") != strings.Join(cycleResultsHeader, ",") {
		t.Fatalf("unexpected header: %v", rows[0])
	}
	want := 0
	for _, record := range artifacts.History {
		want += len(record.Selected)
	}
	if len(rows)-1 != want {
		t.Fatalf("expected %d rows, got %d", want, len(rows)-1)
	}
	first := rows[1]
	if first[0] != "1" || first[1] != artifacts.Input.String() {
		t.Fatalf("first cycle rows must descend from the input: %v", first)
	}
	if !strings.HasSuffix(first[3], "%") || first[6] != artifacts.Input.Translate() {
		t.Fatalf("unexpected similarity columns: %v", first)
	}
}

func TestPeriodicBestFasta(t *testing.T) {
	artifacts := sampleArtifacts(t, 4)
	records := periodicBest(artifacts.Target, artifacts.History, 2)
	if len(records) != len(artifacts.History)/2 {
		t.Fatalf("expected a record every second cycle, got %d", len(records))
	}
	var buf bytes.Buffer
	if err := writeBestReplicates(&buf, records); err != nil {
		t.Fatalf("write fasta: %v", err)
	}
	back, err := fasta.Read(&buf)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if back[0].ID != "Cycle2_best_replicate" || !back[0].Sequence.Equal(artifacts.History[1].Selected[0].Sequence) {
		t.Fatalf("unexpected fasta record: %+v", back[0])
	}
}

func TestFinalBestCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteFinalBest(&buf, seq.MustParse("ATGAAATAA"), seq.MustParse("ATGGAATAA")); err != nil {
		t.Fatalf("write final best: %v", err)
	}
	want := "Input_DNA,Best_DNA,Input_Protein,Best_Protein\nATGAAATAA,ATGGAATAA,MK*,ME*\n"
	if buf.String() != want {
		t.Fatalf("unexpected final best csv:\n%s", buf.String())
	}
}

func TestBestOverallPrefersEarliestOnTies(t *testing.T) {
	history := []evo.CycleRecord{
		{Cycle: 0, Ranked: []evo.ScoredSequence{{ID: "a", Score: 3}}},
		{Cycle: 1, Ranked: []evo.ScoredSequence{{ID: "b", Score: 3}}},
		{Cycle: 2, Ranked: []evo.ScoredSequence{{ID: "c", Score: 2}}},
	}
	best, ok := BestOverall(history)
	if !ok || best.ID != "a" {
		t.Fatalf("unexpected best: ok=%t %+v", ok, best)
	}
	if _, ok := BestOverall(nil); ok {
		t.Fatal("expected no best for empty history")
	}
}

func TestBuildTrendBounds(t *testing.T) {
	artifacts := sampleArtifacts(t, 3)
	for _, point := range BuildTrend(artifacts.Input, artifacts.Target, artifacts.History) {
		if point.TargetMin > point.TargetMax || point.InputMin > point.InputMax {
			t.Fatalf("min above max: %+v", point)
		}
		if point.TargetMax > 100 || point.InputMin < 0 {
			t.Fatalf("similarity out of range: %+v", point)
		}
	}
	if err := PlotTrend(nil, filepath.Join(t.TempDir(), "empty.png")); err == nil {
		t.Fatal("expected error plotting no cycles")
	}
}

func TestRunIndexOrdering(t *testing.T) {
	baseDir := t.TempDir()
	entries := []RunIndexEntry{
		{RunID: "old", CreatedAtUTC: "2024-01-01T00:00:00Z"},
		{RunID: "new", CreatedAtUTC: "2024-02-01T00:00:00Z"},
		{RunID: "tie", CreatedAtUTC: "2024-02-01T00:00:00Z"},
	}
	for _, entry := range entries {
		if err := AppendRunIndex(baseDir, entry); err != nil {
			t.Fatalf("append %s: %v", entry.RunID, err)
		}
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{RunID: "old", CreatedAtUTC: "2024-01-01T00:00:00Z", State: "completed"}); err != nil {
		t.Fatalf("replace old: %v", err)
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	got := []string{index[0].RunID, index[1].RunID, index[2].RunID}
	if strings.Join(got, ",") != "tie,new,old" {
		t.Fatalf("unexpected order: %v", got)
	}
	if index[2].State != "completed" {
		t.Fatalf("expected replaced entry, got %+v", index[2])
	}
	if err := AppendRunIndex(baseDir, RunIndexEntry{}); err == nil {
		t.Fatal("expected error for missing run id")
	}

	raw, err := readRunIndex(baseDir)
	if err != nil {
		t.Fatalf("read raw index: %v", err)
	}
	got = []string{raw[0].RunID, raw[1].RunID, raw[2].RunID}
	if strings.Join(got, ",") != "old,new,tie" {
		t.Fatalf("rewrites must keep append order on disk, got %v", got)
	}

	empty, err := ListRunIndex(t.TempDir())
	if err != nil || len(empty) != 0 {
		t.Fatalf("expected empty index, got %v err=%v", empty, err)
	}
}
