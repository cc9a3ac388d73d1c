package param

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseDefinitions reads a parameter definition file. One parameter per
// line, whitespace-separated fields: name, default, candidates. Lines
// starting with '#' and blank lines are ignored.
func ParseDefinitions(r io.Reader) ([]Parameter, error) {
	var params []Parameter
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("line %d: need at least name, default and one candidate, got %q", lineNo, line)
		}
		p := Parameter{Name: fields[0]}
		def, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid default for %s: %w", lineNo, p.Name, err)
		}
		p.Default = def
		for _, f := range fields[2:] {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid candidate for %s: %w", lineNo, p.Name, err)
			}
			p.Candidates = append(p.Candidates, v)
		}
		params = append(params, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading definitions: %w", err)
	}
	if len(params) == 0 {
		return nil, fmt.Errorf("no parameter definitions found")
	}
	return params, nil
}

// LoadDefinitions parses a parameter definition file from disk.
func LoadDefinitions(path string) ([]Parameter, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parameter definitions: %w", err)
	}
	defer f.Close()
	return ParseDefinitions(f)
}

// WriteVector writes a vector in the oracle's parameter file format:
// one "name value" pair per line, declaration order.
func WriteVector(w io.Writer, v Vector) error {
	bw := bufio.NewWriter(w)
	for _, val := range v {
		if _, err := fmt.Fprintf(bw, "%s %s\n", val.Name, FormatValue(val.Value)); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteVectorFile writes a vector to path in "name value" line format.
func WriteVectorFile(path string, v Vector) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create parameter file: %w", err)
	}
	if err := WriteVector(f, v); err != nil {
		f.Close()
		return fmt.Errorf("failed to write parameter file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close parameter file: %w", err)
	}
	return nil
}

// ReadVectorFile reads a "name value" parameter file back into a
// vector. Line order need not match declaration order; the oracle is
// free to rewrite the file in any order as long as it round-trips.
func ReadVectorFile(path string) (Vector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open parameter file: %w", err)
	}
	defer f.Close()

	var v Vector
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: expected \"name value\", got %q", lineNo, line)
		}
		val, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid value for %s: %w", lineNo, fields[0], err)
		}
		v = append(v, Value{Name: fields[0], Value: val})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading parameter file: %w", err)
	}
	return v, nil
}
