package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"covsim/internal/model"
)

type cycleKey struct {
	runID string
	cycle int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	history     map[string][]model.CycleSummary
	selected    map[cycleKey][]model.SelectedSequence
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return nil
	}
	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.history = make(map[string][]model.CycleSummary)
	s.selected = make(map[cycleKey][]model.SelectedSequence)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	if run.ID == "" {
		return errors.New("run record requires an id")
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

// ListRuns returns runs newest first.
func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

// SaveCycle replaces any summary already stored for the same cycle.
func (s *MemoryStore) SaveCycle(_ context.Context, summary model.CycleSummary, selected []model.SelectedSequence) error {
	if err := validateCycle(summary, selected); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return errNotInitialized
	}
	history := s.history[summary.RunID]
	replaced := false
	for i := range history {
		if history[i].Cycle == summary.Cycle {
			history[i] = summary
			replaced = true
			break
		}
	}
	if !replaced {
		history = append(history, summary)
		sort.SliceStable(history, func(i, j int) bool { return history[i].Cycle < history[j].Cycle })
	}
	s.history[summary.RunID] = history
	s.selected[cycleKey{runID: summary.RunID, cycle: summary.Cycle}] = append([]model.SelectedSequence(nil), selected...)
	return nil
}

func (s *MemoryStore) GetHistory(_ context.Context, runID string) ([]model.CycleSummary, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	return append([]model.CycleSummary(nil), history...), true, nil
}

func (s *MemoryStore) GetSelected(_ context.Context, runID string, cycle int) ([]model.SelectedSequence, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	selected, ok := s.selected[cycleKey{runID: runID, cycle: cycle}]
	if !ok {
		return nil, false, nil
	}
	return append([]model.SelectedSequence(nil), selected...), true, nil
}

var errNotInitialized = errors.New("store is not initialized")

func sortRuns(runs []model.RunRecord) {
	sort.SliceStable(runs, func(i, j int) bool {
		if runs[i].CreatedAt.Equal(runs[j].CreatedAt) {
			return runs[i].ID < runs[j].ID
		}
		return runs[i].CreatedAt.After(runs[j].CreatedAt)
	})
}
