package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lichenbiostat/GraphProt/internal/oracle"
	"github.com/lichenbiostat/GraphProt/internal/param"
)

// Constraint is a cross-parameter validity rule: the Lesser
// parameter's current value must not exceed the Greater parameter's.
// Vectors violating a constraint are rejected before the cache or the
// oracle is consulted.
type Constraint struct {
	Lesser  string `yaml:"lesser" json:"lesser"`
	Greater string `yaml:"greater" json:"greater"`
}

// Config controls one line-search run.
type Config struct {
	// MaxRounds caps the number of completed sweeps
	MaxRounds int `yaml:"maxRounds" json:"maxRounds"`

	// MinImprovement is the round-over-round score gain below which
	// the search stops
	MinImprovement float64 `yaml:"minImprovement" json:"minImprovement"`

	// FloorScore seeds best-score tracking; it must be lower than any
	// score the oracle can report
	FloorScore float64 `yaml:"floorScore" json:"floorScore"`

	// CacheEnabled turns score reuse on. Must be off in ExternalMode.
	CacheEnabled bool `yaml:"cache" json:"cache"`

	// ExternalMode delegates externally-optimized parameters to the
	// oracle's internal optimizer: they are never grid-searched here
	// and their winning values are read back per evaluation
	ExternalMode bool `yaml:"externalMode" json:"externalMode"`

	// Workers bounds concurrent candidate evaluations; 1 runs the
	// classic sequential sweep
	Workers int `yaml:"workers" json:"workers"`

	// Constraints lists cross-parameter validity rules
	Constraints []Constraint `yaml:"constraints" json:"constraints"`
}

// DefaultConfig returns the stock line-search settings.
func DefaultConfig() Config {
	return Config{
		MaxRounds:      5,
		MinImprovement: 0.01,
		FloorScore:     0,
		CacheEnabled:   true,
		Workers:        1,
	}
}

// ConfigError reports invalid or missing mandatory configuration. The
// search never starts.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	_, ok := target.(*ConfigError)
	return ok
}

// EventKind discriminates observer events.
type EventKind string

const (
	// EventEvaluation fires after each scored candidate, whether it
	// came from the oracle or the cache
	EventEvaluation EventKind = "evaluation"
	// EventSkip fires for candidates rejected without scoring
	EventSkip EventKind = "skip"
	// EventRound fires once per completed sweep
	EventRound EventKind = "round"
)

// Event is a progress notification from the engine. Events carry
// diagnostics only; they never affect the search outcome.
type Event struct {
	Kind      EventKind
	Round     int
	Param     string
	Key       string
	Score     float64
	BestScore float64
	CacheHit  bool
	Duration  time.Duration
	Reason    string
}

// Observer receives engine events. Called synchronously from the
// engine goroutine; keep it cheap.
type Observer func(Event)

// Engine drives the coordinate-ascent line search: sweep every
// multi-candidate parameter in declaration order, score each candidate
// with all other parameters held fixed, keep the per-parameter winner,
// and repeat until the stopping rule fires.
type Engine struct {
	space     *param.Space
	eval      oracle.Evaluator
	cache     *Cache
	cfg       Config
	state     State
	observer  Observer
	roundHook func(State) error
	evals     int
}

// NewEngine validates cfg and assembles an engine over space and eval.
func NewEngine(space *param.Space, eval oracle.Evaluator, cfg Config) (*Engine, error) {
	if space == nil || space.Len() == 0 {
		return nil, &ConfigError{Reason: "empty parameter space"}
	}
	if eval == nil {
		return nil, &ConfigError{Reason: "no evaluator"}
	}
	if cfg.MaxRounds < 1 {
		return nil, &ConfigError{Reason: "maxRounds must be at least 1"}
	}
	if cfg.Workers < 1 {
		return nil, &ConfigError{Reason: "workers must be at least 1"}
	}
	if cfg.ExternalMode && cfg.CacheEnabled {
		return nil, &ConfigError{Reason: "caching must be disabled in external-optimization mode"}
	}
	for _, c := range cfg.Constraints {
		for _, name := range []string{c.Lesser, c.Greater} {
			if _, ok := space.Get(name); !ok {
				return nil, &ConfigError{Reason: fmt.Sprintf("constraint references unknown parameter %s", name)}
			}
		}
	}
	return &Engine{
		space: space,
		eval:  eval,
		cache: NewCache(cfg.CacheEnabled),
		cfg:   cfg,
		state: NewState(cfg.FloorScore),
	}, nil
}

// SetObserver installs a progress observer. Must be called before Run.
func (e *Engine) SetObserver(obs Observer) {
	e.observer = obs
}

// State returns a copy of the current search state.
func (e *Engine) State() State {
	s := e.state
	s.BestPerRound = append([]float64{}, e.state.BestPerRound...)
	return s
}

// Cache exposes the result cache, for checkpointing.
func (e *Engine) Cache() *Cache {
	return e.cache
}

// Evaluations returns the number of oracle invocations so far.
func (e *Engine) Evaluations() int {
	return e.evals
}

// Restore rewinds the engine to a previously checkpointed state.
func (e *Engine) Restore(s State, cached map[string]float64) {
	e.state = s
	e.state.BestPerRound = append([]float64{}, s.BestPerRound...)
	e.cache.Seed(cached)
}

// Run executes sweeps until the stopping rule fires and returns the
// winning parameter vector in declaration order. On any fatal error
// (broken oracle contract, workspace failure, cancellation) no vector
// is returned and no partial output should be written by the caller.
func (e *Engine) Run(ctx context.Context) (param.Vector, error) {
	for e.state.Phase != PhaseFinished {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slog.Info("Starting sweep", "round", e.state.Round, "best_score", e.state.BestScore)
		if err := e.sweep(ctx); err != nil {
			return nil, err
		}

		e.state.CompleteRound(e.cfg.MaxRounds, e.cfg.MinImprovement)
		e.emit(Event{
			Kind:      EventRound,
			Round:     e.state.Round,
			BestScore: e.state.BestScore,
		})
		if e.roundHook != nil {
			if err := e.roundHook(e.State()); err != nil {
				return nil, err
			}
		}
	}

	e.space.RestoreBest()
	slog.Info("Search finished",
		"rounds", e.state.Round,
		"best_score", e.state.BestScore,
		"evaluations", e.evals,
		"cache_hits", e.cache.Hits(),
	)
	return e.space.Vector(), nil
}

// SetRoundHook installs a callback that runs after every completed
// sweep, for checkpointing. Must be called before Run.
func (e *Engine) SetRoundHook(hook func(State) error) {
	e.roundHook = hook
}

// sweep performs one coordinate-ascent pass over all parameters.
func (e *Engine) sweep(ctx context.Context) error {
	for _, name := range e.space.Names() {
		if !e.space.HasMultipleCandidates(name) {
			slog.Debug("Skipping fixed parameter", "param", name)
			continue
		}
		p, _ := e.space.Get(name)
		if e.cfg.ExternalMode && p.ExternallyOptimized {
			slog.Debug("Skipping externally-optimized parameter", "param", name)
			continue
		}

		slog.Info("Optimizing parameter",
			"round", e.state.Round,
			"param", name,
			"candidates", len(p.Candidates),
			"best_score", e.state.BestScore,
		)

		var err error
		if e.cfg.Workers > 1 {
			err = e.sweepParamParallel(ctx, p)
		} else {
			err = e.sweepParam(ctx, p)
		}
		if err != nil {
			return err
		}

		// Later parameters are optimized against the best-so-far
		// setting of earlier ones.
		p.Current = p.CurrentBest
	}
	return nil
}

// sweepParam scores each candidate of p in order, one at a time.
func (e *Engine) sweepParam(ctx context.Context, p *param.Parameter) error {
	for _, v := range p.Candidates {
		p.Current = v

		if c, violated := e.violatedConstraint(); violated {
			e.skipCandidate(p.Name, v, c)
			continue
		}

		vec := e.space.Vector()
		key := vec.Key()

		if score, ok := e.cache.Get(key); ok {
			slog.Debug("Cache hit", "key", key, "score", score)
			e.noteScore(score, nil)
			e.emit(Event{
				Kind:      EventEvaluation,
				Round:     e.state.Round,
				Param:     p.Name,
				Key:       key,
				Score:     score,
				BestScore: e.state.BestScore,
				CacheHit:  true,
			})
			continue
		}

		start := time.Now()
		res, err := e.eval.Evaluate(ctx, vec)
		elapsed := time.Since(start)
		if err != nil {
			if handled := e.candidateFailed(p.Name, key, err); handled {
				continue
			}
			return err
		}

		e.evals++
		// Keyed by the vector as submitted, not as possibly rewritten
		// by external optimization.
		e.cache.Put(key, res.Score)
		e.noteScore(res.Score, res.Updated)
		e.emit(Event{
			Kind:      EventEvaluation,
			Round:     e.state.Round,
			Param:     p.Name,
			Key:       key,
			Score:     res.Score,
			BestScore: e.state.BestScore,
			Duration:  elapsed,
		})
	}
	return nil
}

// noteScore updates the running best. Strict improvement only, so ties
// keep the earlier vector.
func (e *Engine) noteScore(score float64, updated map[string]float64) {
	if score > e.state.BestScore {
		e.state.BestScore = score
		e.space.MarkAllBest(updated)
	}
}

// candidateFailed decides whether err is recoverable. Evaluation
// failures exclude the candidate and the search goes on; everything
// else aborts it.
func (e *Engine) candidateFailed(name, key string, err error) bool {
	var evalErr *oracle.EvaluationError
	if errors.As(err, &evalErr) {
		slog.Warn("Candidate excluded", "param", name, "key", key, "error", err)
		e.emit(Event{
			Kind:   EventSkip,
			Round:  e.state.Round,
			Param:  name,
			Key:    key,
			Reason: err.Error(),
		})
		return true
	}
	return false
}

func (e *Engine) skipCandidate(name string, v float64, c Constraint) {
	slog.Debug("Constraint violated",
		"param", name,
		"value", v,
		"constraint", fmt.Sprintf("%s <= %s", c.Lesser, c.Greater),
	)
	e.emit(Event{
		Kind:   EventSkip,
		Round:  e.state.Round,
		Param:  name,
		Reason: fmt.Sprintf("requires %s <= %s", c.Lesser, c.Greater),
	})
}

// violatedConstraint checks the configured validity rules against the
// space's present current values.
func (e *Engine) violatedConstraint() (Constraint, bool) {
	for _, c := range e.cfg.Constraints {
		lesser, _ := e.space.Get(c.Lesser)
		greater, _ := e.space.Get(c.Greater)
		if lesser.Current > greater.Current {
			return c, true
		}
	}
	return Constraint{}, false
}

func (e *Engine) emit(ev Event) {
	if e.observer != nil {
		e.observer(ev)
	}
}
