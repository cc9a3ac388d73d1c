package oracle

import "fmt"

// EvaluationError reports that a single candidate's evaluation failed:
// the external invocation exited non-zero or produced a score outside
// the expected numeric range. It is recovered locally by excluding the
// candidate; the search continues.
type EvaluationError struct {
	Key    string
	Reason string
	Err    error
}

func (e *EvaluationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluation failed for %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("evaluation failed for %s: %s", e.Key, e.Reason)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

func (e *EvaluationError) Is(target error) bool {
	_, ok := target.(*EvaluationError)
	return ok
}

// ContractError reports that the oracle's output could not be parsed
// at all. The scoring contract is broken, so the whole search aborts.
type ContractError struct {
	Path   string
	Reason string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("oracle output %s unusable: %s", e.Path, e.Reason)
}

func (e *ContractError) Is(target error) bool {
	_, ok := target.(*ContractError)
	return ok
}

// ResourceError reports that a scratch workspace could not be created
// or removed. Fatal: continuing risks stale-state contamination of
// later evaluations.
type ResourceError struct {
	Op  string
	Dir string
	Err error
}

func (e *ResourceError) Error() string {
	return fmt.Sprintf("workspace %s %s: %v", e.Op, e.Dir, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

func (e *ResourceError) Is(target error) bool {
	_, ok := target.(*ResourceError)
	return ok
}
