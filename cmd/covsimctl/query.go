package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"covsim/pkg/covsim"
)

type querySettings struct {
	RunID  string `mapstructure:"run-id"`
	Latest bool   `mapstructure:"latest"`
	Limit  int    `mapstructure:"limit"`
	Cycle  int    `mapstructure:"cycle"`
	OutDir string `mapstructure:"out"`
	JSON   bool   `mapstructure:"json"`
}

func (a *app) querySettings() (querySettings, error) {
	var s querySettings
	if err := a.v.Unmarshal(&s); err != nil {
		return s, fmt.Errorf("decode settings: %w", err)
	}
	return s, nil
}

func addRunSelector(cmd *cobra.Command) {
	cmd.Flags().String("run-id", "", "run id")
	cmd.Flags().Bool("latest", false, "use the most recent run")
	cmd.Flags().Bool("json", false, "emit JSON")
}

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List stored runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.querySettings()
			if err != nil {
				return err
			}
			if s.Limit <= 0 {
				return errors.New("limit must be > 0")
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			runs, err := client.Runs(cmd.Context(), covsim.RunsRequest{Limit: s.Limit})
			if err != nil {
				return err
			}
			if s.JSON {
				return writeJSON(a.stdout, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(a.stdout, "no runs found")
				return nil
			}
			for _, run := range runs {
				parent := ""
				if run.ParentRunID != "" {
					parent = " parent_run_id=" + run.ParentRunID
				}
				fmt.Fprintf(a.stdout, "run_id=%s%s created=%s state=%s scorer=%s seed=%d cycles=%d/%d top_n=%d replicates=%d best_score=%.2f\n",
					run.ID,
					parent,
					humanize.Time(run.CreatedAt),
					run.State,
					run.Scorer,
					run.Seed,
					run.CyclesCompleted,
					run.Cycles,
					run.TopN,
					run.ReplicatesPerSeed,
					run.BestScore,
				)
			}
			return nil
		},
	}
	cmd.Flags().Int("limit", 20, "max runs to list")
	cmd.Flags().Bool("json", false, "emit JSON")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show per-cycle scores of a run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.querySettings()
			if err != nil {
				return err
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			history, err := client.History(cmd.Context(), covsim.HistoryRequest{RunID: s.RunID, Latest: s.Latest, Limit: s.Limit})
			if err != nil {
				return err
			}
			if s.JSON {
				return writeJSON(a.stdout, history)
			}
			if len(history) == 0 {
				fmt.Fprintln(a.stdout, "no cycle history")
				return nil
			}
			for _, cycle := range history {
				fmt.Fprintf(a.stdout, "cycle=%d candidates=%s best=%.2f mean=%.2f min_selected=%.2f max=%.2f retained=%d perfect=%t best_id=%s\n",
					cycle.Cycle+1,
					humanize.Comma(int64(cycle.Candidates)),
					cycle.BestScore,
					cycle.MeanScore,
					cycle.MinSelectedScore,
					cycle.MaxScore,
					cycle.Retained,
					cycle.PerfectMatch,
					cycle.BestID,
				)
			}
			return nil
		},
	}
	addRunSelector(cmd)
	cmd.Flags().Int("limit", 0, "show only the last N cycles (0 shows all)")
	return cmd
}

func newSelectedCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "selected",
		Short: "Show the sequences kept in one cycle",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.querySettings()
			if err != nil {
				return err
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			selected, err := client.Selected(cmd.Context(), covsim.SelectedRequest{RunID: s.RunID, Latest: s.Latest, Cycle: s.Cycle})
			if err != nil {
				return err
			}
			if s.JSON {
				return writeJSON(a.stdout, selected)
			}
			for _, item := range selected {
				fmt.Fprintf(a.stdout, "cycle=%d rank=%d score=%.2f id=%s parent_id=%s sequence=%s\n",
					item.Cycle+1, item.Rank+1, item.Score, item.ID, item.ParentID, item.Sequence)
			}
			return nil
		},
	}
	addRunSelector(cmd)
	cmd.Flags().Int("cycle", 0, "cycle number (0 selects the last cycle)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Copy a run's artifacts into the exports directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := a.querySettings()
			if err != nil {
				return err
			}
			client, err := a.client(nil)
			if err != nil {
				return err
			}
			defer func() {
				_ = client.Close()
			}()

			started := time.Now()
			exported, err := client.Export(cmd.Context(), covsim.ExportRequest{RunID: s.RunID, Latest: s.Latest, OutDir: s.OutDir})
			if err != nil {
				return err
			}
			a.logger.Debug("export finished", slog.Duration("elapsed", time.Since(started)))
			fmt.Fprintf(a.stdout, "exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
			return nil
		},
	}
	cmd.Flags().String("run-id", "", "run id")
	cmd.Flags().Bool("latest", false, "export the most recent run")
	cmd.Flags().StringP("out", "o", "", "destination directory (defaults to --exports-dir)")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
