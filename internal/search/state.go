package search

import "log/slog"

// Phase is the engine's state-machine phase.
type Phase string

const (
	PhaseSweeping      Phase = "sweeping"
	PhaseSweepComplete Phase = "sweep_complete"
	PhaseFinished      Phase = "finished"
)

// State tracks the search's mutable bookkeeping. It is owned by the
// engine: BestScore moves at each evaluation, BestPerRound and Round
// only at sweep boundaries.
type State struct {
	// Phase is the current state-machine phase
	Phase Phase

	// Round is the 1-based sweep counter
	Round int

	// BestScore is the best score seen across all evaluations so far
	BestScore float64

	// BestPerRound records BestScore at the end of each completed
	// sweep, seeded with the floor sentinel
	BestPerRound []float64
}

// NewState initializes search state. floor is the sentinel "no score
// yet" value; it must be lower than any score the oracle can report,
// so negative-correlation setups should pass an explicit floor rather
// than the default 0.
func NewState(floor float64) State {
	return State{
		Phase:        PhaseSweeping,
		Round:        1,
		BestScore:    floor,
		BestPerRound: []float64{floor},
	}
}

// CompleteRound appends the running best to the per-round history and
// applies the stopping rule. It returns true when the search is done:
// either the round cap is reached or the improvement over the previous
// round fell below minImprovement.
func (s *State) CompleteRound(maxRounds int, minImprovement float64) bool {
	s.Phase = PhaseSweepComplete
	s.BestPerRound = append(s.BestPerRound, s.BestScore)

	n := len(s.BestPerRound)
	improvement := s.BestPerRound[n-1] - s.BestPerRound[n-2]

	if s.Round >= maxRounds {
		slog.Info("Round cap reached", "round", s.Round, "best_score", s.BestScore)
		s.Phase = PhaseFinished
		return true
	}
	if improvement < minImprovement {
		slog.Info("Converged",
			"round", s.Round,
			"improvement", improvement,
			"threshold", minImprovement,
			"best_score", s.BestScore,
		)
		s.Phase = PhaseFinished
		return true
	}

	s.Round++
	s.Phase = PhaseSweeping
	return false
}
