package stats

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"covsim/internal/evo"
	"covsim/internal/seq"
)

const (
	runIndexFile = "run_index.json"

	ConfigFile         = "config.json"
	HistoryFile        = "cycle_history.json"
	CycleResultsFile   = "cycle_results.csv"
	BestReplicatesFile = "best_replicates.fasta"
	FinalBestFile      = "final_best.csv"
	TrendPlotFile      = "similarity_trend.png"
	LogFile            = "simulation.log"

	// DefaultFastaEvery matches the reporting period of the desktop tool.
	DefaultFastaEvery = 10
)

type RunConfig struct {
	RunID             string             `json:"run_id"`
	ParentRunID       string             `json:"parent_run_id,omitempty"`
	InputID           string             `json:"input_id,omitempty"`
	Input             string             `json:"input"`
	TargetID          string             `json:"target_id,omitempty"`
	Target            string             `json:"target"`
	Scorer            string             `json:"scorer"`
	LengthPenalty     float64            `json:"length_penalty"`
	ReplicatesPerSeed int                `json:"replicates_per_seed"`
	TopN              int                `json:"top_n"`
	Cycles            int                `json:"cycles"`
	FirstCycle        int                `json:"first_cycle"`
	IncludeSeeds      bool               `json:"include_seeds"`
	Mutation          evo.MutationConfig `json:"mutation"`
	Seed              int64              `json:"seed"`
	Workers           int                `json:"workers"`
	FastaEvery        int                `json:"fasta_every"`
	CreatedAtUTC      string             `json:"created_at_utc"`
}

type RunArtifacts struct {
	Config RunConfig
	State  evo.State
	Input  seq.Sequence
	Target seq.Sequence
	// Seeds is the population that entered the first recorded cycle.
	Seeds   []evo.ScoredSequence
	History []evo.CycleRecord
}

type SelectedEntry struct {
	ID       string  `json:"id"`
	ParentID string  `json:"parent_id,omitempty"`
	Sequence string  `json:"sequence"`
	Score    float64 `json:"score"`
}

type HistoryEntry struct {
	Cycle            int             `json:"cycle"`
	Candidates       int             `json:"candidates"`
	BestScore        float64         `json:"best_score"`
	MeanScore        float64         `json:"mean_score"`
	MinSelectedScore float64         `json:"min_selected_score"`
	MaxScore         float64         `json:"max_score"`
	PerfectMatch     bool            `json:"perfect_match"`
	Retained         int             `json:"retained"`
	Selected         []SelectedEntry `json:"selected"`
}

type RunHistory struct {
	State  evo.State      `json:"state"`
	Cycles []HistoryEntry `json:"cycles"`
	Best   *SelectedEntry `json:"best,omitempty"`
	Trend  []TrendPoint   `json:"trend"`
}

type RunIndexEntry struct {
	RunID           string  `json:"run_id"`
	ParentRunID     string  `json:"parent_run_id,omitempty"`
	Scorer          string  `json:"scorer"`
	Cycles          int     `json:"cycles"`
	CyclesCompleted int     `json:"cycles_completed"`
	TopN            int     `json:"top_n"`
	Replicates      int     `json:"replicates_per_seed"`
	Seed            int64   `json:"seed"`
	Workers         int     `json:"workers"`
	State           string  `json:"state"`
	FinalBestScore  float64 `json:"final_best_score"`
	CreatedAtUTC    string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes every report for a run under baseDir/<run-id> and
// returns that directory. Reports that need at least one cycle are skipped
// for an empty history.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, ConfigFile), artifacts.Config); err != nil {
		return "", err
	}
	trend := BuildTrend(artifacts.Input, artifacts.Target, artifacts.History)
	if err := writeJSON(filepath.Join(runDir, HistoryFile), buildRunHistory(artifacts, trend)); err != nil {
		return "", err
	}
	if err := writeFile(filepath.Join(runDir, CycleResultsFile), func(w io.Writer) error {
		return WriteCycleResults(w, artifacts.Input, artifacts.Target, artifacts.Seeds, artifacts.History)
	}); err != nil {
		return "", err
	}
	if len(artifacts.History) == 0 {
		return runDir, nil
	}

	fastaEvery := artifacts.Config.FastaEvery
	if fastaEvery <= 0 {
		fastaEvery = DefaultFastaEvery
	}
	if periodic := periodicBest(artifacts.Target, artifacts.History, fastaEvery); len(periodic) > 0 {
		if err := writeFile(filepath.Join(runDir, BestReplicatesFile), func(w io.Writer) error {
			return writeBestReplicates(w, periodic)
		}); err != nil {
			return "", err
		}
	}
	best, _ := BestOverall(artifacts.History)
	if err := writeFile(filepath.Join(runDir, FinalBestFile), func(w io.Writer) error {
		return WriteFinalBest(w, artifacts.Input, best.Sequence)
	}); err != nil {
		return "", err
	}
	if err := PlotTrend(trend, filepath.Join(runDir, TrendPlotFile)); err != nil {
		return "", fmt.Errorf("plot similarity trend: %w", err)
	}
	return runDir, nil
}

// BestOverall returns the highest-scoring candidate across the history; the
// earliest wins on ties.
func BestOverall(history []evo.CycleRecord) (evo.ScoredSequence, bool) {
	var (
		best  evo.ScoredSequence
		found bool
	)
	for _, record := range history {
		if len(record.Ranked) == 0 {
			continue
		}
		if candidate := record.Best(); !found || candidate.Score > best.Score {
			best = candidate
			found = true
		}
	}
	return best, found
}

func buildRunHistory(artifacts RunArtifacts, trend []TrendPoint) RunHistory {
	out := RunHistory{State: artifacts.State, Cycles: make([]HistoryEntry, 0, len(artifacts.History)), Trend: trend}
	for _, record := range artifacts.History {
		entry := HistoryEntry{
			Cycle:            record.Cycle + 1,
			Candidates:       len(record.Ranked),
			BestScore:        record.BestScore,
			MeanScore:        record.MeanScore,
			MinSelectedScore: record.MinSelectedScore,
			MaxScore:         record.MaxScore,
			PerfectMatch:     record.PerfectMatch,
			Retained:         record.Retained,
			Selected:         make([]SelectedEntry, 0, len(record.Selected)),
		}
		for _, item := range record.Selected {
			entry.Selected = append(entry.Selected, selectedEntry(item))
		}
		out.Cycles = append(out.Cycles, entry)
	}
	if best, ok := BestOverall(artifacts.History); ok {
		entry := selectedEntry(best)
		out.Best = &entry
	}
	return out
}

func selectedEntry(item evo.ScoredSequence) SelectedEntry {
	return SelectedEntry{ID: item.ID, ParentID: item.ParentID, Sequence: item.Sequence.String(), Score: item.Score}
}

func ReadRunHistory(baseDir, runID string) (RunHistory, bool, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runID, HistoryFile))
	if err != nil {
		if os.IsNotExist(err) {
			return RunHistory{}, false, nil
		}
		return RunHistory{}, false, err
	}
	var history RunHistory
	if err := json.Unmarshal(data, &history); err != nil {
		return RunHistory{}, false, err
	}
	return history, true, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := readRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

// readRunIndex returns the entries in append order.
func readRunIndex(baseDir string) ([]RunIndexEntry, error) {
	data, err := os.ReadFile(filepath.Join(baseDir, runIndexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// ListRunIndex returns index entries newest first; entries with equal
// timestamps are ordered by most recent append.
func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	entries, err := readRunIndex(baseDir)
	if err != nil {
		return nil, err
	}

	order := make([]int, len(entries))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.CreatedAtUTC == b.CreatedAtUTC {
			return order[i] > order[j]
		}
		return a.CreatedAtUTC > b.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(entries))
	for _, idx := range order {
		sorted = append(sorted, entries[idx])
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run directory's reports into outDir/<run-id>.
// config.json and the cycle history are required; the rest are copied when
// present.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	for _, file := range []string{ConfigFile, HistoryFile} {
		if err := copyFile(filepath.Join(src, file), filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	for _, file := range []string{CycleResultsFile, BestReplicatesFile, FinalBestFile, TrendPlotFile, LogFile} {
		path := filepath.Join(src, file)
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(path, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}
	return dst, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func writeFile(path string, write func(io.Writer) error) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
