package store

import (
	"time"
)

// TuneConfig holds the configuration of a tuning job (checkpoint copy).
// This avoids import cycles with the server package.
type TuneConfig struct {
	ParamsPath     string  `json:"paramsPath"`
	DataPath       string  `json:"dataPath"`
	OracleCmd      string  `json:"oracleCmd"`
	OutPath        string  `json:"outPath,omitempty"`
	MaxRounds      int     `json:"maxRounds"`
	MinImprovement float64 `json:"minImprovement"`
	FloorScore     float64 `json:"floorScore"`
	Cache          bool    `json:"cache"`
	ExternalMode   bool    `json:"externalMode"`
	Workers        int     `json:"workers"`

	// ExternalParams names parameters delegated to the oracle's
	// internal optimizer when ExternalMode is set
	ExternalParams []string `json:"externalParams,omitempty"`

	// Constraints holds validity rules in "lesser<=greater" form
	Constraints []string `json:"constraints,omitempty"`

	// WorkDir is where per-evaluation scratch workspaces are created
	// ("" = system temp directory)
	WorkDir string `json:"workDir,omitempty"`
}

// ParamState is one parameter's persisted search position.
type ParamState struct {
	// Name is the parameter's identifier
	Name string `json:"name"`

	// Current is the value in effect when the checkpoint was taken
	Current float64 `json:"current"`

	// CurrentBest is the best value found so far
	CurrentBest float64 `json:"currentBest"`
}

// Checkpoint represents a saved search state that can be resumed later.
// All fields are serialized to JSON for persistence.
//
// Checkpoints are taken only at sweep boundaries, so a resumed search
// restarts at the beginning of the next sweep; evaluations of the
// interrupted sweep are repeated unless the cache snapshot covers them.
type Checkpoint struct {
	// JobID is the unique identifier for this tuning job
	JobID string `json:"jobId"`

	// Round is the 1-based sweep counter at checkpoint time
	Round int `json:"round"`

	// Finished marks a search that already hit its stopping rule
	Finished bool `json:"finished"`

	// BestScore is the best correlation seen so far
	BestScore float64 `json:"bestScore"`

	// BestPerRound is the per-sweep best-score history, including the
	// floor sentinel at index 0
	BestPerRound []float64 `json:"bestPerRound"`

	// Params holds every parameter's current/best values in
	// declaration order
	Params []ParamState `json:"params"`

	// Cache is the result-cache snapshot keyed by canonical vector key
	Cache map[string]float64 `json:"cache,omitempty"`

	// Evaluations counts oracle invocations so far
	Evaluations int `json:"evaluations"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config holds the job configuration, needed for validation during resume.
	// We ensure that resumed jobs use compatible settings (same data, oracle, etc.)
	Config TuneConfig `json:"config"`
}

// CheckpointInfo contains metadata about a checkpoint without the full
// parameter and cache data. Used for listing checkpoints efficiently.
type CheckpointInfo struct {
	// JobID is the unique identifier for this checkpoint
	JobID string `json:"jobId"`

	// Round is the sweep counter at checkpoint time
	Round int `json:"round"`

	// BestScore is the best correlation at the time of checkpointing
	BestScore float64 `json:"bestScore"`

	// Finished marks a completed search
	Finished bool `json:"finished"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// DataPath is the training data path
	DataPath string `json:"dataPath"`

	// OracleCmd is the cross-validation command
	OracleCmd string `json:"oracleCmd"`
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		Round:     c.Round,
		BestScore: c.BestScore,
		Finished:  c.Finished,
		Timestamp: c.Timestamp,
		DataPath:  c.Config.DataPath,
		OracleCmd: c.Config.OracleCmd,
	}
}

// Validate checks if the checkpoint has valid data.
// Returns an error if any required field is missing or invalid.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.Params) == 0 {
		return &ValidationError{Field: "Params", Reason: "cannot be empty"}
	}
	if c.Round < 1 {
		return &ValidationError{Field: "Round", Reason: "must be at least 1"}
	}
	if len(c.BestPerRound) == 0 {
		return &ValidationError{Field: "BestPerRound", Reason: "must contain the seed sentinel"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.DataPath == "" {
		return &ValidationError{Field: "Config.DataPath", Reason: "cannot be empty"}
	}
	if c.Config.OracleCmd == "" {
		return &ValidationError{Field: "Config.OracleCmd", Reason: "cannot be empty"}
	}
	if c.Config.MaxRounds <= 0 {
		return &ValidationError{Field: "Config.MaxRounds", Reason: "must be positive"}
	}
	seen := make(map[string]bool, len(c.Params))
	for _, p := range c.Params {
		if p.Name == "" {
			return &ValidationError{Field: "Params", Reason: "parameter with empty name"}
		}
		if seen[p.Name] {
			return &ValidationError{Field: "Params", Reason: "duplicate parameter " + p.Name}
		}
		seen[p.Name] = true
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks if this checkpoint can be resumed with the given config.
// Returns an error if the configs are incompatible.
func (c *Checkpoint) IsCompatible(config TuneConfig) error {
	if c.Config.DataPath != config.DataPath {
		return &CompatibilityError{
			Field:    "DataPath",
			Expected: c.Config.DataPath,
			Actual:   config.DataPath,
		}
	}
	if c.Config.OracleCmd != config.OracleCmd {
		return &CompatibilityError{
			Field:    "OracleCmd",
			Expected: c.Config.OracleCmd,
			Actual:   config.OracleCmd,
		}
	}
	if c.Config.ExternalMode != config.ExternalMode {
		return &CompatibilityError{
			Field:    "ExternalMode",
			Expected: boolString(c.Config.ExternalMode),
			Actual:   boolString(config.ExternalMode),
		}
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
