package evo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/iter"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"covsim/internal/seq"
)

// InputID identifies the cycle-0 seed.
const InputID = "input"

type State string

const (
	StateInitialized State = "initialized"
	StateRunning     State = "running"
	StateCompleted   State = "completed"
	StateAborted     State = "aborted"
	StateStopped     State = "stopped"
)

type CycleConfig struct {
	ReplicatesPerSeed int          `json:"replicates_per_seed"`
	TopN              int          `json:"top_n"`
	Cycles            int          `json:"cycles"`
	Target            seq.Sequence `json:"target"`
	// IncludeSeeds re-scores every seed and ranks it alongside its own
	// replicates, which keeps the best score from regressing across cycles.
	IncludeSeeds bool `json:"include_seeds"`
}

func (c CycleConfig) Validate() error {
	var v configValidator
	v.positive("replicates_per_seed", c.ReplicatesPerSeed)
	v.positive("top_n", c.TopN)
	v.positive("cycles", c.Cycles)
	if c.Target.Len() == 0 {
		v.fail("target", "must not be empty")
	}
	return v.err()
}

// ScoredSequence is a candidate with its score and lineage. Lineage is
// informational and never used for selection.
type ScoredSequence struct {
	ID        string       `json:"id"`
	ParentID  string       `json:"parent_id,omitempty"`
	SeedIndex int          `json:"seed_index"`
	Sequence  seq.Sequence `json:"sequence"`
	Score     float64      `json:"score"`
	Events    []Event      `json:"events,omitempty"`
}

type CycleRecord struct {
	Cycle            int              `json:"cycle"`
	Ranked           []ScoredSequence `json:"ranked"`
	Selected         []ScoredSequence `json:"selected"`
	BestScore        float64          `json:"best_score"`
	MeanScore        float64          `json:"mean_score"`
	MinSelectedScore float64          `json:"min_selected_score"`
	MaxScore         float64          `json:"max_score"`
	PerfectMatch     bool             `json:"perfect_match"`
	Retained         int              `json:"retained"`
}

// Best is the top-ranked candidate of the cycle.
func (r CycleRecord) Best() ScoredSequence {
	if len(r.Ranked) == 0 {
		return ScoredSequence{}
	}
	return r.Ranked[0]
}

type StepResult struct {
	Next   []ScoredSequence
	Record CycleRecord
}

type RunResult struct {
	State   State
	Seed    int64
	History []CycleRecord
	Final   []ScoredSequence
}

type ControllerConfig struct {
	Mutation MutationConfig
	Cycle    CycleConfig
	// Scorer defaults to NewIdentityScorer.
	Scorer Scorer
	// Streams overrides the seeded per-replicate streams, mainly for tests.
	Streams StreamFactory
	// Seed pins the run's random streams; 0 picks one at construction.
	Seed    int64
	Workers int
	Logger  *slog.Logger
	// OnCycle is called after each completed cycle, outside controller locks.
	OnCycle func(CycleRecord)
}

// Controller drives the multi-cycle mutate, score, select loop. A controller
// runs once; history stays readable after it finishes.
type Controller struct {
	cfg       ControllerConfig
	generator *Generator
	scorer    Scorer
	streams   StreamFactory
	seed      int64
	logger    *slog.Logger

	mu      sync.RWMutex
	state   State
	history []CycleRecord
	err     error
}

func NewController(cfg ControllerConfig) (*Controller, error) {
	var v configValidator
	v.merge(cfg.Mutation.Validate())
	v.merge(cfg.Cycle.Validate())
	if err := v.err(); err != nil {
		return nil, err
	}

	engine, err := NewEngine(cfg.Mutation)
	if err != nil {
		return nil, err
	}
	generator, err := NewGenerator(engine, cfg.Workers)
	if err != nil {
		return nil, err
	}

	scorer := cfg.Scorer
	if scorer == nil {
		scorer = NewIdentityScorer()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = NewRunSeed()
	}
	streams := cfg.Streams
	if streams == nil {
		streams = SeededStreams{Seed: seed}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Controller{
		cfg:       cfg,
		generator: generator,
		scorer:    scorer,
		streams:   streams,
		seed:      seed,
		logger:    logger.With(slog.String("component", "cycle_controller")),
		state:     StateInitialized,
	}, nil
}

func (c *Controller) Seed() int64 {
	return c.seed
}

func (c *Controller) Scorer() Scorer {
	return c.scorer
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Err is the error that aborted or stopped the run, if any.
func (c *Controller) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.err
}

// History returns a copy of the records of every completed cycle.
func (c *Controller) History() []CycleRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]CycleRecord(nil), c.history...)
}

// Run evolves input for the configured number of cycles. On cancellation
// it returns the partial result with the context error.
func (c *Controller) Run(ctx context.Context, input seq.Sequence) (RunResult, error) {
	initial := []ScoredSequence{{
		ID:       InputID,
		Sequence: input,
		Score:    c.scorer.Score(input, c.cfg.Cycle.Target),
	}}
	return c.run(ctx, initial, 0, c.cfg.Cycle.Cycles)
}

// Resume continues from the selected population of last for the given
// number of further cycles.
func (c *Controller) Resume(ctx context.Context, last CycleRecord, cycles int) (RunResult, error) {
	if cycles <= 0 {
		return RunResult{}, &InvalidConfigError{Fields: []FieldError{{Field: "cycles", Reason: fmt.Sprintf("must be > 0, got %d", cycles)}}}
	}
	if len(last.Selected) == 0 {
		return RunResult{}, &EmptyPopulationError{Cycle: last.Cycle + 1}
	}
	population := append([]ScoredSequence(nil), last.Selected...)
	return c.run(ctx, population, last.Cycle+1, cycles)
}

func (c *Controller) run(ctx context.Context, population []ScoredSequence, start, cycles int) (RunResult, error) {
	c.mu.Lock()
	if c.state != StateInitialized {
		state := c.state
		c.mu.Unlock()
		return RunResult{}, fmt.Errorf("controller already %s", state)
	}
	c.state = StateRunning
	c.mu.Unlock()

	c.logger.Info("run started",
		slog.Int("first_cycle", start+1),
		slog.Int("cycles", cycles),
		slog.Int("seeds", len(population)),
		slog.Int64("seed", c.seed),
		slog.Int("workers", c.generator.Workers()),
	)

	for cycle := start; cycle < start+cycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return c.stop(population, cycle, err)
		}

		step, err := c.Step(ctx, population, cycle)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
				return c.stop(population, cycle, ctxErr)
			}
			return c.abort(population, cycle, err)
		}

		c.mu.Lock()
		c.history = append(c.history, step.Record)
		c.mu.Unlock()
		c.logger.Info("cycle complete",
			slog.Int("cycle", cycle+1),
			slog.Float64("best", step.Record.BestScore),
			slog.Float64("mean", step.Record.MeanScore),
			slog.Float64("selected_min", step.Record.MinSelectedScore),
			slog.Int("retained", step.Record.Retained),
		)
		if c.cfg.OnCycle != nil {
			c.cfg.OnCycle(step.Record)
		}

		population = step.Next
		if step.Record.PerfectMatch {
			c.logger.Info("target reached", slog.Int("cycle", cycle+1))
			break
		}
	}

	c.mu.Lock()
	c.state = StateCompleted
	c.mu.Unlock()
	return c.result(population), nil
}

func (c *Controller) stop(population []ScoredSequence, cycle int, err error) (RunResult, error) {
	c.mu.Lock()
	c.state = StateStopped
	c.err = err
	c.mu.Unlock()
	c.logger.Warn("stop requested", slog.Int("cycle", cycle+1))
	return c.result(population), err
}

func (c *Controller) abort(population []ScoredSequence, cycle int, err error) (RunResult, error) {
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		cycleErr = &CycleError{Cycle: cycle, Err: err}
	}
	c.mu.Lock()
	c.state = StateAborted
	c.err = cycleErr
	c.mu.Unlock()
	c.logger.Error("run aborted", slog.Int("cycle", cycle+1), slog.String("error", err.Error()))
	return c.result(population), cycleErr
}

func (c *Controller) result(population []ScoredSequence) RunResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return RunResult{
		State:   c.state,
		Seed:    c.seed,
		History: append([]CycleRecord(nil), c.history...),
		Final:   append([]ScoredSequence(nil), population...),
	}
}

// Step runs one cycle over population without touching controller state:
// generate every seed's replicates, score, rank, select.
func (c *Controller) Step(ctx context.Context, population []ScoredSequence, cycle int) (StepResult, error) {
	if len(population) == 0 {
		return StepResult{}, &EmptyPopulationError{Cycle: cycle}
	}
	target := c.cfg.Cycle.Target

	seeds := make([]seq.Sequence, len(population))
	for i, parent := range population {
		seeds[i] = parent.Sequence
	}
	batches, err := c.generator.GenerateAll(ctx, seeds, c.cfg.Cycle.ReplicatesPerSeed, c.streams, cycle)
	if err != nil {
		return StepResult{}, err
	}

	perSeed := c.cfg.Cycle.ReplicatesPerSeed
	if c.cfg.Cycle.IncludeSeeds {
		perSeed++
	}
	candidates := make([]ScoredSequence, 0, len(population)*perSeed)
	for i, parent := range population {
		if c.cfg.Cycle.IncludeSeeds {
			candidates = append(candidates, ScoredSequence{
				ID:        parent.ID,
				ParentID:  parent.ID,
				SeedIndex: i,
				Sequence:  parent.Sequence,
			})
		}
		for r, replicate := range batches[i] {
			candidates = append(candidates, ScoredSequence{
				ID:        fmt.Sprintf("c%d-s%d-r%d", cycle+1, i, r),
				ParentID:  parent.ID,
				SeedIndex: i,
				Sequence:  replicate.Sequence,
				Events:    replicate.Events,
			})
		}
	}

	mapper := iter.Mapper[ScoredSequence, float64]{MaxGoroutines: c.generator.Workers()}
	scores := mapper.Map(candidates, func(candidate *ScoredSequence) float64 {
		return c.scorer.Score(candidate.Sequence, target)
	})
	for i := range candidates {
		candidates[i].Score = scores[i]
	}

	ranked := Rank(candidates)
	selected, err := SelectTop(ranked, c.cfg.Cycle.TopN, cycle)
	if err != nil {
		return StepResult{}, err
	}

	maxScore := c.scorer.Max(target)
	selectedScores := make([]float64, len(selected))
	retained := 0
	for i, item := range selected {
		selectedScores[i] = item.Score
		if item.Sequence.Equal(population[item.SeedIndex].Sequence) {
			retained++
		}
	}

	perfect := false
	for _, candidate := range ranked {
		if candidate.Score < maxScore {
			break
		}
		if c.scorer.Exact(candidate.Sequence, target) {
			perfect = true
			break
		}
	}

	record := CycleRecord{
		Cycle:            cycle,
		Ranked:           ranked,
		Selected:         selected,
		BestScore:        ranked[0].Score,
		MeanScore:        stat.Mean(scores, nil),
		MinSelectedScore: floats.Min(selectedScores),
		MaxScore:         maxScore,
		PerfectMatch:     perfect,
		Retained:         retained,
	}
	return StepResult{Next: selected, Record: record}, nil
}
