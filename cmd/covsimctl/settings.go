package main

import (
	"fmt"

	"covsim/internal/evo"
	"covsim/pkg/covsim"
)

// runSettings mirrors the run flags; keys match flag names so a config file
// uses the same spelling as the command line.
type runSettings struct {
	RunID         string  `mapstructure:"run-id"`
	Input         string  `mapstructure:"input"`
	InputFile     string  `mapstructure:"input-file"`
	Target        string  `mapstructure:"target"`
	TargetFile    string  `mapstructure:"target-file"`
	Scorer        string  `mapstructure:"scorer"`
	LengthPenalty float64 `mapstructure:"length-penalty"`
	Replicates    int     `mapstructure:"replicates"`
	TopN          int     `mapstructure:"top-n"`
	Cycles        int     `mapstructure:"cycles"`
	IncludeSeeds  bool    `mapstructure:"include-seeds"`
	Seed          int64   `mapstructure:"seed"`
	Workers       int     `mapstructure:"workers"`
	FastaEvery    int     `mapstructure:"fasta-every"`
	MetricsAddr   string  `mapstructure:"metrics-addr"`
	Progress      bool    `mapstructure:"progress"`

	SubstitutionRate   float64 `mapstructure:"substitution-rate"`
	SubstitutionRatio  float64 `mapstructure:"substitution-ratio"`
	TransitionRatio    float64 `mapstructure:"transition-ratio"`
	InsertionBias      float64 `mapstructure:"insertion-bias"`
	IndelMin           int     `mapstructure:"indel-min"`
	IndelMax           int     `mapstructure:"indel-max"`
	EventsPerReplicate int     `mapstructure:"events-per-replicate"`
}

type resumeSettings struct {
	RunID       string `mapstructure:"run-id"`
	Latest      bool   `mapstructure:"latest"`
	NewRunID    string `mapstructure:"new-run-id"`
	Cycles      int    `mapstructure:"cycles"`
	Workers     int    `mapstructure:"workers"`
	FastaEvery  int    `mapstructure:"fasta-every"`
	MetricsAddr string `mapstructure:"metrics-addr"`
	Progress    bool   `mapstructure:"progress"`
}

func (s runSettings) validate() error {
	if s.Replicates <= 0 {
		return fmt.Errorf("replicates must be > 0, got %d", s.Replicates)
	}
	if s.TopN <= 0 {
		return fmt.Errorf("top-n must be > 0, got %d", s.TopN)
	}
	if s.Cycles <= 0 {
		return fmt.Errorf("cycles must be > 0, got %d", s.Cycles)
	}
	if s.Workers < 0 {
		return fmt.Errorf("workers must be >= 0, got %d", s.Workers)
	}
	return nil
}

func (s runSettings) request() covsim.RunRequest {
	penalty := s.LengthPenalty
	return covsim.RunRequest{
		RunID:             s.RunID,
		Input:             s.Input,
		InputPath:         s.InputFile,
		Target:            s.Target,
		TargetPath:        s.TargetFile,
		Scorer:            s.Scorer,
		LengthPenalty:     &penalty,
		ReplicatesPerSeed: s.Replicates,
		TopN:              s.TopN,
		Cycles:            s.Cycles,
		IncludeSeeds:      s.IncludeSeeds,
		Mutation: &covsim.MutationRequest{
			SubstitutionRate:   s.SubstitutionRate,
			SubstitutionRatio:  s.SubstitutionRatio,
			TransitionRatio:    s.TransitionRatio,
			InsertionBias:      s.InsertionBias,
			IndelMin:           s.IndelMin,
			IndelMax:           s.IndelMax,
			EventsPerReplicate: s.EventsPerReplicate,
		},
		Seed:       s.Seed,
		Workers:    s.Workers,
		FastaEvery: s.FastaEvery,
	}
}

func (s resumeSettings) request() covsim.ResumeRequest {
	return covsim.ResumeRequest{
		RunID:      s.RunID,
		Latest:     s.Latest,
		NewRunID:   s.NewRunID,
		Cycles:     s.Cycles,
		Workers:    s.Workers,
		FastaEvery: s.FastaEvery,
	}
}

var defaultMutation = evo.DefaultMutationConfig()
