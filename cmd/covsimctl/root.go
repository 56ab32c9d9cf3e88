package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"covsim/internal/telemetry"
	"covsim/pkg/covsim"
)

const envPrefix = "COVSIM"

// app carries the state shared by every subcommand. Flags, the optional
// config file and COVSIM_* environment variables all resolve through v.
type app struct {
	v      *viper.Viper
	stdout io.Writer
	stderr io.Writer
	logger *slog.Logger
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	a := &app{v: viper.New(), stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:   "covsimctl",
		Short: "Simulate directed evolution of coding sequences",
		Long: `
Evolve an input coding sequence toward a target by repeated rounds of random
mutation, scoring and truncation selection. Runs are stored so they can be
listed, inspected, resumed and exported later.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.String("config", "", "config file with flag values (yaml, json or toml)")
	pf.String("store", "sqlite", "store backend: memory|sqlite")
	pf.String("db-path", "covsim.db", "sqlite database path")
	pf.String("runs-dir", "runs", "directory for run artifacts")
	pf.String("exports-dir", "exports", "directory for exported runs")
	pf.String("log-level", "warn", "log level: debug|info|warn|error")

	root.AddCommand(
		newRunCmd(a),
		newResumeCmd(a),
		newRunsCmd(a),
		newHistoryCmd(a),
		newSelectedCmd(a),
		newExportCmd(a),
	)
	return root
}

// setup binds the executing command's flags, then layers the environment
// and config file underneath them.
func (a *app) setup(cmd *cobra.Command) error {
	if err := a.v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}
	a.v.SetEnvPrefix(envPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()

	if path := a.v.GetString("config"); path != "" {
		a.v.SetConfigFile(path)
		if err := a.v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config %s: %w", path, err)
		}
	}

	level, err := parseLevel(a.v.GetString("log-level"))
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))
	return nil
}

func (a *app) client(metrics *telemetry.Metrics) (*covsim.Client, error) {
	return covsim.New(covsim.Options{
		StoreKind:  a.v.GetString("store"),
		DBPath:     a.v.GetString("db-path"),
		RunsDir:    a.v.GetString("runs-dir"),
		ExportsDir: a.v.GetString("exports-dir"),
		Logger:     a.logger,
		Metrics:    metrics,
	})
}

func parseLevel(raw string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return level, fmt.Errorf("invalid log level %q", raw)
	}
	return level, nil
}
