package search

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lichenbiostat/GraphProt/internal/oracle"
	"github.com/lichenbiostat/GraphProt/internal/param"
)

// candidateOutcome is the result of scoring one candidate value
// concurrently, held back until all of the parameter's candidates are
// in so they can be applied in candidate order.
type candidateOutcome struct {
	value    float64
	key      string
	score    float64
	updated  map[string]float64
	cacheHit bool
	duration time.Duration
	skipped  bool
	reason   string
}

// sweepParamParallel scores p's candidates concurrently, bounded by
// cfg.Workers. Candidates within one parameter's sweep are independent
// (the rest of the vector is fixed), so they are safe to evaluate in
// parallel as long as each evaluation owns its workspace and cache
// writes are serialized. Outcomes are applied in candidate order
// afterwards, so the winner matches the sequential schedule exactly.
func (e *Engine) sweepParamParallel(ctx context.Context, p *param.Parameter) error {
	outcomes := make([]candidateOutcome, len(p.Candidates))

	// Constraint checks and cache lookups stay on the engine
	// goroutine: they mutate/read the shared space.
	var pending []int
	for i, v := range p.Candidates {
		p.Current = v
		out := &outcomes[i]
		out.value = v

		if c, violated := e.violatedConstraint(); violated {
			e.skipCandidate(p.Name, v, c)
			out.skipped = true
			out.reason = "constraint"
			continue
		}

		vec := e.space.Vector()
		out.key = vec.Key()
		if score, ok := e.cache.Get(out.key); ok {
			out.score = score
			out.cacheHit = true
			continue
		}
		pending = append(pending, i)
	}

	// Evaluate the remaining candidates concurrently, each against a
	// private copy of the vector.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for _, i := range pending {
		out := &outcomes[i]
		vec := e.vectorWith(p.Name, out.value)
		g.Go(func() error {
			start := time.Now()
			res, err := e.eval.Evaluate(gctx, vec)
			out.duration = time.Since(start)
			if err != nil {
				var evalErr *oracle.EvaluationError
				if errors.As(err, &evalErr) {
					slog.Warn("Candidate excluded", "param", p.Name, "key", out.key, "error", err)
					out.skipped = true
					out.reason = err.Error()
					return nil
				}
				return err
			}
			out.score = res.Score
			out.updated = res.Updated
			mu.Lock()
			e.evals++
			mu.Unlock()
			e.cache.Put(out.key, res.Score)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// Apply in candidate order so best-tracking and tie-breaking are
	// identical to the sequential sweep.
	for _, out := range outcomes {
		if out.skipped {
			if out.reason != "constraint" {
				e.emit(Event{
					Kind:   EventSkip,
					Round:  e.state.Round,
					Param:  p.Name,
					Key:    out.key,
					Reason: out.reason,
				})
			}
			continue
		}
		p.Current = out.value
		e.noteScore(out.score, out.updated)
		e.emit(Event{
			Kind:      EventEvaluation,
			Round:     e.state.Round,
			Param:     p.Name,
			Key:       out.key,
			Score:     out.score,
			BestScore: e.state.BestScore,
			CacheHit:  out.cacheHit,
			Duration:  out.duration,
		})
	}
	return nil
}

// vectorWith materializes the current vector with one value replaced.
func (e *Engine) vectorWith(name string, value float64) param.Vector {
	vec := e.space.Vector()
	for i := range vec {
		if vec[i].Name == name {
			vec[i].Value = value
		}
	}
	return vec
}
