// Package tune assembles a parameter space, oracle adapter and search
// engine from a job configuration and runs the line search end to end,
// wiring in trace logging and per-sweep checkpointing. Both the CLI
// and the job server execute searches through this package.
package tune

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lichenbiostat/GraphProt/internal/oracle"
	"github.com/lichenbiostat/GraphProt/internal/param"
	"github.com/lichenbiostat/GraphProt/internal/search"
	"github.com/lichenbiostat/GraphProt/internal/store"
)

// Result summarizes a completed tuning run.
type Result struct {
	// Final is the winning parameter vector in declaration order
	Final param.Vector

	// BestScore is the correlation achieved by Final
	BestScore float64

	// Rounds is the number of completed sweeps
	Rounds int

	// Evaluations counts oracle invocations (cache hits excluded)
	Evaluations int

	// CacheHits counts scores reused from the result cache
	CacheHits int
}

// Normalize fills unset fields of cfg with the stock engine defaults
// and rejects configurations missing mandatory inputs. The search
// never starts on a config error.
func Normalize(cfg store.TuneConfig) (store.TuneConfig, error) {
	if cfg.ParamsPath == "" {
		return cfg, &search.ConfigError{Reason: "parameter definition file is required"}
	}
	if cfg.DataPath == "" {
		return cfg, &search.ConfigError{Reason: "training data file is required"}
	}
	if cfg.OracleCmd == "" {
		return cfg, &search.ConfigError{Reason: "oracle command is required"}
	}
	defaults := search.DefaultConfig()
	if cfg.MaxRounds == 0 {
		cfg.MaxRounds = defaults.MaxRounds
	}
	if cfg.MinImprovement == 0 {
		cfg.MinImprovement = defaults.MinImprovement
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaults.Workers
	}
	return cfg, nil
}

// ParseConstraints converts "lesser<=greater" rules into engine
// constraints.
func ParseConstraints(rules []string) ([]search.Constraint, error) {
	var cs []search.Constraint
	for _, rule := range rules {
		parts := strings.Split(rule, "<=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid constraint %q: expected \"lesser<=greater\"", rule)
		}
		lesser := strings.TrimSpace(parts[0])
		greater := strings.TrimSpace(parts[1])
		if lesser == "" || greater == "" {
			return nil, fmt.Errorf("invalid constraint %q: empty parameter name", rule)
		}
		cs = append(cs, search.Constraint{Lesser: lesser, Greater: greater})
	}
	return cs, nil
}

// BuildSpace loads the parameter definitions named by cfg and flags
// the externally-optimized parameters.
func BuildSpace(cfg store.TuneConfig) (*param.Space, error) {
	defs, err := param.LoadDefinitions(cfg.ParamsPath)
	if err != nil {
		return nil, err
	}
	if cfg.ExternalMode {
		external := make(map[string]bool, len(cfg.ExternalParams))
		for _, name := range cfg.ExternalParams {
			external[name] = true
		}
		for i := range defs {
			if external[defs[i].Name] {
				defs[i].ExternallyOptimized = true
				delete(external, defs[i].Name)
			}
		}
		for name := range external {
			return nil, fmt.Errorf("external parameter %s is not defined in %s", name, cfg.ParamsPath)
		}
	}
	return param.NewSpace(defs)
}

// EngineConfig translates a job configuration into engine settings.
func EngineConfig(cfg store.TuneConfig) (search.Config, error) {
	constraints, err := ParseConstraints(cfg.Constraints)
	if err != nil {
		return search.Config{}, err
	}
	ec := search.Config{
		MaxRounds:      cfg.MaxRounds,
		MinImprovement: cfg.MinImprovement,
		FloorScore:     cfg.FloorScore,
		CacheEnabled:   cfg.Cache,
		ExternalMode:   cfg.ExternalMode,
		Workers:        cfg.Workers,
		Constraints:    constraints,
	}
	if ec.ExternalMode {
		// The oracle's internal optimizer makes repeated evaluations of
		// the same nominal vector non-deterministic.
		ec.CacheEnabled = false
	}
	return ec, nil
}

// NewOracle builds the cross-validation adapter for cfg.
func NewOracle(cfg store.TuneConfig) *oracle.CrossValidation {
	cv := &oracle.CrossValidation{
		Command:  cfg.OracleCmd,
		DataPath: cfg.DataPath,
		BaseDir:  cfg.WorkDir,
	}
	if cfg.ExternalMode {
		cv.ReadBack = cfg.ExternalParams
	}
	return cv
}

// Execute runs a full line search for the given job. When st is
// non-nil the engine checkpoints after every completed sweep and each
// evaluation is appended to the job's trace. A non-nil checkpoint
// resumes the search from its recorded sweep boundary. obs, when
// non-nil, receives every engine event in addition to the built-in
// trace handling.
func Execute(ctx context.Context, jobID string, cfg store.TuneConfig, st store.Store, traceDir string, resume *store.Checkpoint, obs search.Observer) (*Result, error) {
	space, err := BuildSpace(cfg)
	if err != nil {
		return nil, err
	}

	engineCfg, err := EngineConfig(cfg)
	if err != nil {
		return nil, &search.ConfigError{Reason: err.Error()}
	}

	engine, err := search.NewEngine(space, NewOracle(cfg), engineCfg)
	if err != nil {
		return nil, err
	}

	var trace *store.TraceWriter
	if traceDir != "" {
		trace, err = store.NewTraceWriter(traceDir, jobID, resume != nil)
		if err != nil {
			return nil, err
		}
		defer trace.Close()
	}

	engine.SetObserver(func(ev search.Event) {
		if trace != nil && ev.Kind == search.EventEvaluation {
			entry := store.TraceEntry{
				Round:      ev.Round,
				Param:      ev.Param,
				Key:        ev.Key,
				Score:      ev.Score,
				CacheHit:   ev.CacheHit,
				DurationMs: ev.Duration.Milliseconds(),
				Timestamp:  time.Now(),
			}
			if err := trace.Write(entry); err != nil {
				slog.Warn("Failed to write trace entry", "jobID", jobID, "error", err)
			}
		}
		if obs != nil {
			obs(ev)
		}
	})

	if resume != nil {
		if err := restore(engine, space, resume); err != nil {
			return nil, err
		}
		slog.Info("Resuming search",
			"jobID", jobID,
			"round", resume.Round,
			"best_score", resume.BestScore,
		)
	}

	if st != nil {
		engine.SetRoundHook(func(s search.State) error {
			cp := Snapshot(jobID, cfg, space, engine, s)
			if err := st.SaveCheckpoint(jobID, cp); err != nil {
				slog.Warn("Failed to save checkpoint", "jobID", jobID, "error", err)
			}
			if trace != nil {
				if err := trace.Flush(); err != nil {
					slog.Warn("Failed to flush trace", "jobID", jobID, "error", err)
				}
			}
			return nil
		})
	}

	final, err := engine.Run(ctx)
	if err != nil {
		return nil, err
	}

	state := engine.State()
	return &Result{
		Final:       final,
		BestScore:   state.BestScore,
		Rounds:      state.Round,
		Evaluations: engine.Evaluations(),
		CacheHits:   engine.Cache().Hits(),
	}, nil
}

// Snapshot captures the engine's current position as a checkpoint.
func Snapshot(jobID string, cfg store.TuneConfig, space *param.Space, engine *search.Engine, s search.State) *store.Checkpoint {
	params := make([]store.ParamState, 0, space.Len())
	for _, name := range space.Names() {
		p, _ := space.Get(name)
		params = append(params, store.ParamState{
			Name:        p.Name,
			Current:     p.Current,
			CurrentBest: p.CurrentBest,
		})
	}
	cp := &store.Checkpoint{
		JobID:        jobID,
		Round:        s.Round,
		Finished:     s.Phase == search.PhaseFinished,
		BestScore:    s.BestScore,
		BestPerRound: s.BestPerRound,
		Params:       params,
		Evaluations:  engine.Evaluations(),
		Timestamp:    time.Now(),
		Config:       cfg,
	}
	if engine.Cache().Enabled() {
		cp.Cache = engine.Cache().Snapshot()
	}
	return cp
}

// restore rewinds engine and space to a checkpointed position.
func restore(engine *search.Engine, space *param.Space, cp *store.Checkpoint) error {
	for _, ps := range cp.Params {
		p, ok := space.Get(ps.Name)
		if !ok {
			return fmt.Errorf("checkpoint parameter %s is not defined in the current space", ps.Name)
		}
		p.Current = ps.Current
		p.CurrentBest = ps.CurrentBest
	}
	phase := search.PhaseSweeping
	if cp.Finished {
		phase = search.PhaseFinished
	}
	engine.Restore(search.State{
		Phase:        phase,
		Round:        cp.Round,
		BestScore:    cp.BestScore,
		BestPerRound: cp.BestPerRound,
	}, cp.Cache)
	return nil
}
