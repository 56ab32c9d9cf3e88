// Package covsim runs directed-evolution simulations of coding sequences and
// keeps their history, selected populations and reports.
package covsim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"covsim/internal/evo"
	"covsim/internal/fasta"
	"covsim/internal/model"
	"covsim/internal/seq"
	"covsim/internal/stats"
	"covsim/internal/storage"
	"covsim/internal/telemetry"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "covsim.db"

	defaultReplicatesPerSeed = 100
	defaultTopN              = 10
	defaultCycles            = 100
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
	// Metrics is optional; nil disables collection.
	Metrics *telemetry.Metrics
}

type Client struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *telemetry.Metrics

	runsDir    string
	exportsDir string

	initOnce sync.Once
	initErr  error
}

type MutationRequest struct {
	SubstitutionRate   float64
	SubstitutionRatio  float64
	TransitionRatio    float64
	InsertionBias      float64
	IndelMin           int
	IndelMax           int
	EventsPerReplicate int
}

// RunRequest describes a new run. Sequences come either inline or from the
// first record of a FASTA file (".gz" and "-" accepted).
type RunRequest struct {
	RunID             string
	Input             string
	InputPath         string
	Target            string
	TargetPath        string
	Scorer            string
	LengthPenalty     *float64
	ReplicatesPerSeed int
	TopN              int
	Cycles            int
	IncludeSeeds      bool
	// Mutation nil selects evo.DefaultMutationConfig.
	Mutation   *MutationRequest
	Seed       int64
	Workers    int
	FastaEvery int
	OnCycle    func(evo.CycleRecord)
}

type ResumeRequest struct {
	RunID    string
	Latest   bool
	NewRunID string
	// Cycles defaults to the parent run's cycle count.
	Cycles     int
	Workers    int
	FastaEvery int
	OnCycle    func(evo.CycleRecord)
}

type RunSummary struct {
	RunID           string
	ParentRunID     string
	State           evo.State
	Seed            int64
	ArtifactsDir    string
	CyclesCompleted int
	Best            evo.ScoredSequence
	MaxScore        float64
	Similarity      float64
	History         []evo.CycleRecord
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		logger:     logger,
		metrics:    opts.Metrics,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) init(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if req.ReplicatesPerSeed == 0 {
		req.ReplicatesPerSeed = defaultReplicatesPerSeed
	}
	if req.TopN == 0 {
		req.TopN = defaultTopN
	}
	if req.Cycles == 0 {
		req.Cycles = defaultCycles
	}
	if req.FastaEvery <= 0 {
		req.FastaEvery = stats.DefaultFastaEvery
	}
	lengthPenalty := 1.0
	if req.LengthPenalty != nil {
		lengthPenalty = *req.LengthPenalty
	}
	mutation := evo.DefaultMutationConfig()
	if req.Mutation != nil {
		mutation = mutationConfig(model.MutationSettings(*req.Mutation))
	}

	input, inputID, err := loadSequence("input", req.Input, req.InputPath)
	if err != nil {
		return RunSummary{}, err
	}
	target, targetID, err := loadSequence("target", req.Target, req.TargetPath)
	if err != nil {
		return RunSummary{}, err
	}
	scorer, err := evo.ScorerFromName(req.Scorer, lengthPenalty)
	if err != nil {
		return RunSummary{}, err
	}
	seed := req.Seed
	if seed == 0 {
		seed = evo.NewRunSeed()
	}
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	record := model.RunRecord{
		VersionedRecord:   storage.Versioned(),
		ID:                runID,
		CreatedAt:         time.Now().UTC(),
		Seed:              seed,
		InputID:           inputID,
		Input:             input.String(),
		TargetID:          targetID,
		Target:            target.String(),
		Scorer:            scorer.Name(),
		LengthPenalty:     lengthPenalty,
		ReplicatesPerSeed: req.ReplicatesPerSeed,
		TopN:              req.TopN,
		Cycles:            req.Cycles,
		IncludeSeeds:      req.IncludeSeeds,
		Mutation:          mutationSettings(mutation),
	}
	return c.execute(ctx, execution{
		record:     record,
		input:      input,
		target:     target,
		scorer:     scorer,
		mutation:   mutation,
		seeds:      []evo.ScoredSequence{{ID: evo.InputID, Sequence: input, Score: scorer.Score(input, target)}},
		workers:    req.Workers,
		fastaEvery: req.FastaEvery,
		onCycle:    req.OnCycle,
	})
}

// Resume starts a new run that continues from the last selected population
// of an earlier run, with the same configuration and seed. Cycle numbering
// carries on from the parent.
func (c *Client) Resume(ctx context.Context, req ResumeRequest) (RunSummary, error) {
	if err := c.init(ctx); err != nil {
		return RunSummary{}, err
	}
	parentID, err := c.resolveRunID(ctx, req.RunID, req.Latest)
	if err != nil {
		return RunSummary{}, err
	}
	parent, ok, err := c.store.GetRun(ctx, parentID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("run not found: %s", parentID)
	}
	history, ok, err := c.store.GetHistory(ctx, parentID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok || len(history) == 0 {
		return RunSummary{}, fmt.Errorf("run %s has no completed cycles to resume from", parentID)
	}
	last := history[len(history)-1]
	stored, ok, err := c.store.GetSelected(ctx, parentID, last.Cycle)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("selected population missing for run %s cycle %d", parentID, last.Cycle+1)
	}
	seeds, err := scoredSequences(stored)
	if err != nil {
		return RunSummary{}, err
	}

	input, err := seq.Parse(parent.Input)
	if err != nil {
		return RunSummary{}, fmt.Errorf("stored input of run %s: %w", parentID, err)
	}
	target, err := seq.Parse(parent.Target)
	if err != nil {
		return RunSummary{}, fmt.Errorf("stored target of run %s: %w", parentID, err)
	}
	scorer, err := evo.ScorerFromName(parent.Scorer, parent.LengthPenalty)
	if err != nil {
		return RunSummary{}, err
	}

	cycles := req.Cycles
	if cycles == 0 {
		cycles = parent.Cycles
	}
	fastaEvery := req.FastaEvery
	if fastaEvery <= 0 {
		fastaEvery = stats.DefaultFastaEvery
	}
	runID := strings.TrimSpace(req.NewRunID)
	if runID == "" {
		runID = uuid.NewString()
	}

	record := parent
	record.VersionedRecord = storage.Versioned()
	record.ID = runID
	record.ParentRunID = parentID
	record.CreatedAt = time.Now().UTC()
	record.Cycles = cycles
	record.State = ""
	record.CyclesCompleted = 0
	record.BestScore = 0
	record.Error = ""

	return c.execute(ctx, execution{
		record:     record,
		input:      input,
		target:     target,
		scorer:     scorer,
		mutation:   mutationConfig(parent.Mutation),
		seeds:      seeds,
		resumeFrom: &evo.CycleRecord{Cycle: last.Cycle, Selected: seeds},
		workers:    req.Workers,
		fastaEvery: fastaEvery,
		onCycle:    req.OnCycle,
	})
}

type execution struct {
	record     model.RunRecord
	input      seq.Sequence
	target     seq.Sequence
	scorer     evo.Scorer
	mutation   evo.MutationConfig
	seeds      []evo.ScoredSequence
	resumeFrom *evo.CycleRecord
	workers    int
	fastaEvery int
	onCycle    func(evo.CycleRecord)
}

func (c *Client) execute(ctx context.Context, ex execution) (RunSummary, error) {
	if err := c.init(ctx); err != nil {
		return RunSummary{}, err
	}
	runID := ex.record.ID
	if _, ok, err := c.store.GetRun(ctx, runID); err != nil {
		return RunSummary{}, err
	} else if ok {
		return RunSummary{}, fmt.Errorf("run id already exists: %s", runID)
	}

	runDir := filepath.Join(c.runsDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return RunSummary{}, err
	}
	logFile, err := os.Create(filepath.Join(runDir, stats.LogFile))
	if err != nil {
		return RunSummary{}, err
	}
	defer logFile.Close()
	logger := slog.New(newTeeHandler(c.logger.Handler(), slog.NewTextHandler(logFile, nil))).
		With(slog.String("run_id", runID))

	// A persistence failure stops the run at the next cycle boundary.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	persistCtx := context.WithoutCancel(ctx)
	var persistErr error
	started := time.Now()

	controller, err := evo.NewController(evo.ControllerConfig{
		Mutation: ex.mutation,
		Cycle: evo.CycleConfig{
			ReplicatesPerSeed: ex.record.ReplicatesPerSeed,
			TopN:              ex.record.TopN,
			Cycles:            ex.record.Cycles,
			Target:            ex.target,
			IncludeSeeds:      ex.record.IncludeSeeds,
		},
		Scorer:  ex.scorer,
		Seed:    ex.record.Seed,
		Workers: ex.workers,
		Logger:  logger,
		OnCycle: func(record evo.CycleRecord) {
			now := time.Now()
			c.metrics.Observe(runID, record, now.Sub(started).Seconds())
			started = now
			if persistErr == nil {
				if err := c.store.SaveCycle(persistCtx, cycleSummary(runID, record), selectedRecords(runID, record)); err != nil {
					persistErr = fmt.Errorf("persist cycle %d: %w", record.Cycle+1, err)
					logger.Error("persist failed", slog.String("error", err.Error()))
					cancel()
				}
			}
			if ex.onCycle != nil {
				ex.onCycle(record)
			}
		},
	})
	if err != nil {
		_ = logFile.Close()
		_ = os.RemoveAll(runDir)
		return RunSummary{}, err
	}

	ex.record.State = string(evo.StateRunning)
	if err := c.store.SaveRun(ctx, ex.record); err != nil {
		return RunSummary{}, err
	}

	var (
		result evo.RunResult
		runErr error
	)
	started = time.Now()
	if ex.resumeFrom != nil {
		result, runErr = controller.Resume(runCtx, *ex.resumeFrom, ex.record.Cycles)
	} else {
		result, runErr = controller.Run(runCtx, ex.input)
	}
	if persistErr != nil {
		runErr = persistErr
	}
	return c.finish(persistCtx, ex, runDir, logger, result, runErr)
}

func (c *Client) finish(ctx context.Context, ex execution, runDir string, logger *slog.Logger, result evo.RunResult, runErr error) (RunSummary, error) {
	record := ex.record
	record.State = string(result.State)
	record.CyclesCompleted = len(result.History)
	best, hasBest := stats.BestOverall(result.History)
	if hasBest {
		record.BestScore = best.Score
	}
	if runErr != nil {
		record.Error = runErr.Error()
	}
	if err := c.store.SaveRun(ctx, record); err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}

	firstCycle := 0
	if ex.resumeFrom != nil {
		firstCycle = ex.resumeFrom.Cycle + 1
	}
	if _, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:             record.ID,
			ParentRunID:       record.ParentRunID,
			InputID:           record.InputID,
			Input:             record.Input,
			TargetID:          record.TargetID,
			Target:            record.Target,
			Scorer:            record.Scorer,
			LengthPenalty:     record.LengthPenalty,
			ReplicatesPerSeed: record.ReplicatesPerSeed,
			TopN:              record.TopN,
			Cycles:            record.Cycles,
			FirstCycle:        firstCycle + 1,
			IncludeSeeds:      record.IncludeSeeds,
			Mutation:          ex.mutation,
			Seed:              record.Seed,
			Workers:           ex.workers,
			FastaEvery:        ex.fastaEvery,
			CreatedAtUTC:      record.CreatedAt.Format(time.RFC3339Nano),
		},
		State:   result.State,
		Input:   ex.input,
		Target:  ex.target,
		Seeds:   ex.seeds,
		History: result.History,
	}); err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}
	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:           record.ID,
		ParentRunID:     record.ParentRunID,
		Scorer:          record.Scorer,
		Cycles:          record.Cycles,
		CyclesCompleted: record.CyclesCompleted,
		TopN:            record.TopN,
		Replicates:      record.ReplicatesPerSeed,
		Seed:            record.Seed,
		Workers:         ex.workers,
		State:           record.State,
		FinalBestScore:  record.BestScore,
		CreatedAtUTC:    record.CreatedAt.Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, errors.Join(runErr, err)
	}
	c.metrics.RunFinished(result.State)

	maxScore := ex.scorer.Max(ex.target)
	retained := 0
	for _, cycle := range result.History {
		retained += cycle.Retained
	}
	logger.Info("run finished",
		slog.String("state", record.State),
		slog.Int("cycles", record.CyclesCompleted),
		slog.Float64("best", record.BestScore),
		slog.Float64("similarity", evo.Similarity(record.BestScore, maxScore)),
		slog.Int("retained", retained),
		slog.Int("retained_of", record.CyclesCompleted*record.TopN),
	)

	summary := RunSummary{
		RunID:           record.ID,
		ParentRunID:     record.ParentRunID,
		State:           result.State,
		Seed:            record.Seed,
		ArtifactsDir:    filepath.Clean(runDir),
		CyclesCompleted: record.CyclesCompleted,
		MaxScore:        maxScore,
		History:         result.History,
	}
	if hasBest {
		summary.Best = best
		summary.Similarity = evo.Similarity(best.Score, maxScore)
	}
	return summary, runErr
}

func loadSequence(label, raw, path string) (seq.Sequence, string, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw != "" && path != "":
		return seq.Sequence{}, "", fmt.Errorf("use either an inline %s or a %s file", label, label)
	case path != "":
		rec, err := fasta.First(path)
		if err != nil {
			return seq.Sequence{}, "", fmt.Errorf("load %s: %w", label, err)
		}
		if rec.Sequence.Len() == 0 {
			return seq.Sequence{}, "", fmt.Errorf("load %s: record %s is empty", label, rec.ID)
		}
		return rec.Sequence, rec.ID, nil
	case raw != "":
		s, err := seq.Parse(raw)
		if err != nil {
			return seq.Sequence{}, "", fmt.Errorf("parse %s: %w", label, err)
		}
		return s, label, nil
	default:
		return seq.Sequence{}, "", fmt.Errorf("%s sequence is required", label)
	}
}
