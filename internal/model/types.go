package model

import "time"

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

type MutationSettings struct {
	SubstitutionRate   float64 `json:"substitution_rate"`
	SubstitutionRatio  float64 `json:"substitution_ratio"`
	TransitionRatio    float64 `json:"transition_ratio"`
	InsertionBias      float64 `json:"insertion_bias"`
	IndelMin           int     `json:"indel_min"`
	IndelMax           int     `json:"indel_max"`
	EventsPerReplicate int     `json:"events_per_replicate"`
}

// RunRecord describes one controller run. Resumed runs point at the run
// they continue through ParentRunID.
type RunRecord struct {
	VersionedRecord
	ID                string           `json:"id"`
	ParentRunID       string           `json:"parent_run_id,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	Seed              int64            `json:"seed"`
	InputID           string           `json:"input_id"`
	Input             string           `json:"input"`
	TargetID          string           `json:"target_id"`
	Target            string           `json:"target"`
	Scorer            string           `json:"scorer"`
	LengthPenalty     float64          `json:"length_penalty"`
	ReplicatesPerSeed int              `json:"replicates_per_seed"`
	TopN              int              `json:"top_n"`
	Cycles            int              `json:"cycles"`
	IncludeSeeds      bool             `json:"include_seeds"`
	Mutation          MutationSettings `json:"mutation"`
	State             string           `json:"state"`
	CyclesCompleted   int              `json:"cycles_completed"`
	BestScore         float64          `json:"best_score"`
	Error             string           `json:"error,omitempty"`
}

type CycleSummary struct {
	VersionedRecord
	RunID            string  `json:"run_id"`
	Cycle            int     `json:"cycle"`
	Candidates       int     `json:"candidates"`
	BestID           string  `json:"best_id"`
	BestSequence     string  `json:"best_sequence"`
	BestScore        float64 `json:"best_score"`
	MeanScore        float64 `json:"mean_score"`
	MinSelectedScore float64 `json:"min_selected_score"`
	MaxScore         float64 `json:"max_score"`
	PerfectMatch     bool    `json:"perfect_match"`
	Retained         int     `json:"retained"`
}

// SelectedSequence is one member of a cycle's selected population, in rank order.
type SelectedSequence struct {
	VersionedRecord
	RunID     string  `json:"run_id"`
	Cycle     int     `json:"cycle"`
	Rank      int     `json:"rank"`
	ID        string  `json:"id"`
	ParentID  string  `json:"parent_id,omitempty"`
	SeedIndex int     `json:"seed_index"`
	Sequence  string  `json:"sequence"`
	Score     float64 `json:"score"`
}
