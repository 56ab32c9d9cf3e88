package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"covsim/internal/evo"
	"covsim/internal/telemetry"
	"covsim/pkg/covsim"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Evolve an input sequence toward a target",
		Long: `
Run a directed-evolution simulation. Each cycle replicates every selected
sequence with random substitutions and indels, scores the replicates against
the target and keeps the best top-n as the next cycle's seeds. The run stops
after the requested cycles or as soon as a replicate matches the target.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s runSettings
			if err := a.v.Unmarshal(&s); err != nil {
				return fmt.Errorf("decode settings: %w", err)
			}
			if err := s.validate(); err != nil {
				return err
			}
			req := s.request()
			return a.execute(cmd.Context(), s.MetricsAddr, s.Progress, s.Cycles, func(ctx context.Context, client *covsim.Client, onCycle func(evo.CycleRecord)) (covsim.RunSummary, error) {
				req.OnCycle = onCycle
				return client.Run(ctx, req)
			})
		},
	}

	f := cmd.Flags()
	f.String("run-id", "", "explicit run id (generated when empty)")
	f.StringP("input", "i", "", "input coding sequence")
	f.String("input-file", "", "FASTA file with the input sequence (first record; .gz and - accepted)")
	f.StringP("target", "t", "", "target sequence")
	f.String("target-file", "", "FASTA file with the target sequence")
	f.String("scorer", "identity", "scorer: identity|protein")
	f.Float64("length-penalty", 1, "score penalty per position of length difference")
	f.IntP("replicates", "r", 100, "replicates generated per selected sequence")
	f.IntP("top-n", "n", 10, "sequences kept each cycle")
	f.IntP("cycles", "c", 100, "maximum cycles")
	f.Bool("include-seeds", false, "rank the seeds alongside their replicates")
	f.Int64("seed", 0, "rng seed (0 picks one from the clock)")
	f.Int("workers", 0, "worker count (0 uses GOMAXPROCS)")
	f.Int("fasta-every", 10, "write the best replicates FASTA every N cycles")
	f.Float64("substitution-rate", defaultMutation.SubstitutionRate, "per-event substitution probability")
	f.Float64("substitution-ratio", defaultMutation.SubstitutionRatio, "share of events that are substitutions rather than indels")
	f.Float64("transition-ratio", defaultMutation.TransitionRatio, "share of substitutions that are transitions")
	f.Float64("insertion-bias", defaultMutation.InsertionBias, "share of indels that are insertions")
	f.Int("indel-min", defaultMutation.IndelLength.Min, "minimum indel length")
	f.Int("indel-max", defaultMutation.IndelLength.Max, "maximum indel length")
	f.Int("events-per-replicate", defaultMutation.EventsPerReplicate, "fixed events per replicate (0 walks every site)")
	addRunnerFlags(cmd)
	return cmd
}

func newResumeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Continue a stored run from its last selected population",
		Long: `
Start a new run that carries on from the last selected population of an
earlier run, reusing its sequences, scorer, mutation settings and seed. Cycle
numbering continues from the parent.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var s resumeSettings
			if err := a.v.Unmarshal(&s); err != nil {
				return fmt.Errorf("decode settings: %w", err)
			}
			if s.Cycles < 0 {
				return fmt.Errorf("cycles must be >= 0, got %d", s.Cycles)
			}
			req := s.request()
			return a.execute(cmd.Context(), s.MetricsAddr, s.Progress, s.Cycles, func(ctx context.Context, client *covsim.Client, onCycle func(evo.CycleRecord)) (covsim.RunSummary, error) {
				req.OnCycle = onCycle
				return client.Resume(ctx, req)
			})
		},
	}

	f := cmd.Flags()
	f.String("run-id", "", "run to resume")
	f.Bool("latest", false, "resume the most recent run")
	f.String("new-run-id", "", "id for the continuation run (generated when empty)")
	f.IntP("cycles", "c", 0, "cycles to add (0 repeats the parent's count)")
	f.Int("workers", 0, "worker count (0 uses GOMAXPROCS)")
	f.Int("fasta-every", 10, "write the best replicates FASTA every N cycles")
	addRunnerFlags(cmd)
	return cmd
}

func addRunnerFlags(cmd *cobra.Command) {
	cmd.Flags().String("metrics-addr", "", "serve Prometheus metrics on this address while running (e.g. :9100)")
	cmd.Flags().Bool("progress", false, "print progress even when stdout is not a terminal")
}

type runner func(context.Context, *covsim.Client, func(evo.CycleRecord)) (covsim.RunSummary, error)

func (a *app) execute(ctx context.Context, metricsAddr string, forceProgress bool, cycles int, fn runner) error {
	metrics := telemetry.New()
	if metricsAddr != "" {
		shutdown, err := serveMetrics(metricsAddr, metrics, a.logger)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		defer func() {
			_ = shutdown(context.WithoutCancel(ctx))
		}()
	}

	client, err := a.client(metrics)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	p := newProgress(a.stdout, forceProgress, cycles)
	summary, runErr := fn(ctx, client, p.observe)
	if summary.RunID == "" {
		return runErr
	}
	a.printSummary(summary, p.scored)
	if errors.Is(runErr, context.Canceled) {
		fmt.Fprintf(a.stdout, "stopped run_id=%s after %d cycles\n", summary.RunID, summary.CyclesCompleted)
		return nil
	}
	return runErr
}

func (a *app) printSummary(summary covsim.RunSummary, scored int64) {
	if summary.ParentRunID != "" {
		fmt.Fprintf(a.stdout, "run %s run_id=%s parent_run_id=%s seed=%d cycles=%d\n",
			summary.State, summary.RunID, summary.ParentRunID, summary.Seed, summary.CyclesCompleted)
	} else {
		fmt.Fprintf(a.stdout, "run %s run_id=%s seed=%d cycles=%d\n",
			summary.State, summary.RunID, summary.Seed, summary.CyclesCompleted)
	}
	for _, record := range summary.History {
		fmt.Fprintf(a.stdout, "cycle=%d best=%.2f mean=%.2f min_selected=%.2f retained=%d\n",
			record.Cycle+1, record.BestScore, record.MeanScore, record.MinSelectedScore, record.Retained)
	}
	if summary.CyclesCompleted > 0 {
		fmt.Fprintf(a.stdout, "best_id=%s best_score=%.2f max_score=%.2f similarity=%.2f%% candidates_scored=%s\n",
			summary.Best.ID, summary.Best.Score, summary.MaxScore, summary.Similarity, humanize.Comma(scored))
		fmt.Fprintf(a.stdout, "best_sequence=%s\n", summary.Best.Sequence)
	}
	fmt.Fprintf(a.stdout, "artifacts_dir=%s\n", filepath.Clean(summary.ArtifactsDir))
}
