package oracle

import (
	"context"

	"github.com/lichenbiostat/GraphProt/internal/param"
)

// Result holds the outcome of one oracle evaluation.
type Result struct {
	// Score is the correlation reported by the cross-validation run
	Score float64

	// ErrMetric is the secondary error metric from two-line oracle
	// output (0 when the oracle reports a bare score)
	ErrMetric float64

	// Updated carries values the oracle's internal optimizer wrote
	// back for externally-optimized parameters; nil otherwise
	Updated map[string]float64
}

// Evaluator scores a materialized parameter vector. Implementations
// may be expensive and must honor ctx cancellation. The search engine
// only depends on this interface, so tests can swap in a mock.
type Evaluator interface {
	Evaluate(ctx context.Context, v param.Vector) (Result, error)
}
