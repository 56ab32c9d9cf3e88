package evo

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/sourcegraph/conc/pool"

	"covsim/internal/seq"
)

type Replicate struct {
	Sequence seq.Sequence
	Events   []Event
}

// Generator fans replicate generation out over a bounded worker pool. Results
// are written by index, so output order is generation order whatever the
// scheduling.
type Generator struct {
	engine  *Engine
	workers int
}

func NewGenerator(engine *Engine, workers int) (*Generator, error) {
	if engine == nil {
		return nil, errors.New("mutation engine is required")
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &Generator{engine: engine, workers: workers}, nil
}

func (g *Generator) Workers() int {
	return g.workers
}

// Generate produces count replicates of seed; replicate i draws only from
// streamFor(i).
func (g *Generator) Generate(ctx context.Context, seed seq.Sequence, count int, streamFor func(replicate int) Rand) ([]Replicate, error) {
	if streamFor == nil {
		return nil, errors.New("stream source is required")
	}
	out, err := g.run(ctx, []seq.Sequence{seed}, count, func(_, replicate int) Rand {
		return streamFor(replicate)
	})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// GenerateAll runs one flat parallel map over every (seed, replicate) pair of
// a cycle and returns the batches grouped per seed.
func (g *Generator) GenerateAll(ctx context.Context, seeds []seq.Sequence, count int, streams StreamFactory, cycle int) ([][]Replicate, error) {
	if streams == nil {
		return nil, errors.New("stream factory is required")
	}
	return g.run(ctx, seeds, count, func(seedIndex, replicate int) Rand {
		return streams.Stream(cycle, seedIndex, replicate)
	})
}

func (g *Generator) run(ctx context.Context, seeds []seq.Sequence, count int, streamFor func(seedIndex, replicate int) Rand) ([][]Replicate, error) {
	if count <= 0 {
		return nil, fmt.Errorf("replicate count must be > 0, got %d", count)
	}

	out := make([][]Replicate, len(seeds))
	for i := range out {
		out[i] = make([]Replicate, count)
	}

	p := pool.New().
		WithContext(ctx).
		WithMaxGoroutines(g.workers).
		WithCancelOnError().
		WithFirstError()
	for seedIndex, seed := range seeds {
		for r := 0; r < count; r++ {
			p.Go(func(ctx context.Context) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				mutated, events, err := g.engine.Replicate(seed, streamFor(seedIndex, r))
				if err != nil {
					return fmt.Errorf("replicate %d of seed %d: %w", r, seedIndex, err)
				}
				out[seedIndex][r] = Replicate{Sequence: mutated, Events: events}
				return nil
			})
		}
	}
	if err := p.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
