package oracle

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/lichenbiostat/GraphProt/internal/param"
)

// CrossValidation invokes the external cross-validation command for
// each parameter vector. Every evaluation runs inside its own scratch
// workspace which is removed on all exit paths; a leaked workspace
// could feed stale files back into the external tool.
type CrossValidation struct {
	// Command is the path to the cross-validation driver
	Command string

	// DataPath is the training data passed to every invocation
	DataPath string

	// BaseDir is where scratch workspaces are created ("" = os.TempDir)
	BaseDir string

	// ReadBack names externally-optimized parameters whose values the
	// driver rewrites into the parameter file during the run
	ReadBack []string

	// KeepWorkspace disables workspace removal, for debugging failed
	// oracle runs
	KeepWorkspace bool
}

const (
	paramFileName = "param"
	outFileName   = "cv_result"
)

// Evaluate materializes v into a fresh workspace, runs the external
// command and parses the reported correlation.
func (cv *CrossValidation) Evaluate(ctx context.Context, v param.Vector) (res Result, err error) {
	base := cv.BaseDir
	if base == "" {
		base = os.TempDir()
	}
	ws := filepath.Join(base, "eval-"+uuid.New().String())
	if mkErr := os.MkdirAll(ws, 0755); mkErr != nil {
		return Result{}, &ResourceError{Op: "create", Dir: ws, Err: mkErr}
	}
	defer func() {
		if cv.KeepWorkspace {
			slog.Debug("Keeping workspace", "dir", ws)
			return
		}
		if rmErr := os.RemoveAll(ws); rmErr != nil && err == nil {
			err = &ResourceError{Op: "remove", Dir: ws, Err: rmErr}
		}
	}()

	paramPath := filepath.Join(ws, paramFileName)
	outPath := filepath.Join(ws, outFileName)

	if wErr := param.WriteVectorFile(paramPath, v); wErr != nil {
		return Result{}, &ResourceError{Op: "populate", Dir: ws, Err: wErr}
	}

	cmd := exec.CommandContext(ctx, cv.Command, paramPath, cv.DataPath, outPath)
	cmd.Dir = ws
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	slog.Debug("Invoking oracle", "command", cv.Command, "workspace", ws)
	if runErr := cmd.Run(); runErr != nil {
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		if stderr.Len() > 0 {
			slog.Debug("Oracle stderr", "output", strings.TrimSpace(stderr.String()))
		}
		return Result{}, &EvaluationError{Key: v.Key(), Reason: "oracle exited with error", Err: runErr}
	}

	score, errMetric, parseErr := ParseScoreFile(outPath)
	if parseErr != nil {
		return Result{}, parseErr
	}
	if math.IsNaN(score) || math.IsInf(score, 0) || score < -1 || score > 1 {
		return Result{}, &EvaluationError{
			Key:    v.Key(),
			Reason: fmt.Sprintf("correlation %v outside [-1,1]", score),
		}
	}

	res = Result{Score: score, ErrMetric: errMetric}
	if len(cv.ReadBack) > 0 {
		updated, rbErr := cv.readBack(paramPath)
		if rbErr != nil {
			return Result{}, rbErr
		}
		res.Updated = updated
	}
	return res, nil
}

// readBack re-reads the parameter file the oracle rewrote and extracts
// the externally-optimized values.
func (cv *CrossValidation) readBack(path string) (map[string]float64, error) {
	rewritten, err := param.ReadVectorFile(path)
	if err != nil {
		return nil, &ContractError{Path: path, Reason: err.Error()}
	}
	updated := make(map[string]float64, len(cv.ReadBack))
	for _, name := range cv.ReadBack {
		v, ok := rewritten.Lookup(name)
		if !ok {
			return nil, &ContractError{
				Path:   path,
				Reason: fmt.Sprintf("rewritten parameter file is missing %s", name),
			}
		}
		updated[name] = v
	}
	return updated, nil
}

// ParseScoreFile parses the oracle's result file. Two conventions are
// supported: a single numeric line holding the correlation, or a
// labeled two-line block holding an error metric and a correlation.
// In the labeled form the correlation line is picked by label; when no
// label matches, the second line is taken as the correlation.
func ParseScoreFile(path string) (score, errMetric float64, err error) {
	data, rErr := os.ReadFile(path)
	if rErr != nil {
		return 0, 0, &ContractError{Path: path, Reason: "result file missing or unreadable"}
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	switch len(lines) {
	case 1:
		v, ok := lastNumericField(lines[0])
		if !ok {
			return 0, 0, &ContractError{Path: path, Reason: fmt.Sprintf("no numeric score in %q", lines[0])}
		}
		return v, 0, nil
	case 2:
		first, ok1 := lastNumericField(lines[0])
		second, ok2 := lastNumericField(lines[1])
		if !ok1 || !ok2 {
			return 0, 0, &ContractError{Path: path, Reason: "two-line result block is not numeric"}
		}
		if isCorrelationLine(lines[0]) && !isCorrelationLine(lines[1]) {
			return first, second, nil
		}
		return second, first, nil
	default:
		return 0, 0, &ContractError{Path: path, Reason: fmt.Sprintf("expected 1 or 2 result lines, found %d", len(lines))}
	}
}

// lastNumericField returns the last whitespace-separated field of line
// that parses as a float, so both "0.73" and "correlation 0.73" work.
func lastNumericField(line string) (float64, bool) {
	fields := strings.Fields(line)
	for i := len(fields) - 1; i >= 0; i-- {
		if v, err := strconv.ParseFloat(fields[i], 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

func isCorrelationLine(line string) bool {
	return strings.Contains(strings.ToLower(line), "correlation")
}
