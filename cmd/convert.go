package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

var (
	convertInPath  string
	convertOutPath string
)

var convertCmd = &cobra.Command{
	Use:   "convert",
	Short: "Convert per-vertex margins to per-position profiles",
	Long: `Aggregate a per-vertex margin file into per-sequence-position sums.

Input lines have three whitespace-separated fields:

    <sequence-id> <position> <margin>

Margins of vertices that map to the same sequence position are summed.
Output lines carry the same three-field layout, sorted by sequence id
and position. Lines starting with '#' are ignored.`,
	RunE: runConvert,
}

func init() {
	rootCmd.AddCommand(convertCmd)

	convertCmd.Flags().StringVar(&convertInPath, "in", "", "Per-vertex margin file (required)")
	convertCmd.Flags().StringVar(&convertOutPath, "out", "", "Output file (default: stdout)")
	convertCmd.MarkFlagRequired("in")
}

func runConvert(cmd *cobra.Command, args []string) error {
	in, err := os.Open(convertInPath)
	if err != nil {
		return fmt.Errorf("failed to open margin file: %w", err)
	}
	defer in.Close()

	profile, err := aggregateMargins(in)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", convertInPath, err)
	}

	var out io.Writer = os.Stdout
	if convertOutPath != "" {
		f, err := os.Create(convertOutPath)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	return writeProfile(out, profile)
}

// positionMargin is one aggregated entry of a margin profile.
type positionMargin struct {
	Seq      string
	Position int
	Margin   float64
}

// aggregateMargins sums per-vertex margins that share a sequence id and
// position, returning entries sorted by sequence id, then position.
func aggregateMargins(r io.Reader) ([]positionMargin, error) {
	type key struct {
		seq string
		pos int
	}
	sums := make(map[key]float64)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("line %d: expected 3 fields, got %d", lineNo, len(fields))
		}
		pos, err := strconv.Atoi(fields[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid position %q", lineNo, fields[1])
		}
		margin, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid margin %q", lineNo, fields[2])
		}
		sums[key{fields[0], pos}] += margin
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	profile := make([]positionMargin, 0, len(sums))
	for k, m := range sums {
		profile = append(profile, positionMargin{Seq: k.seq, Position: k.pos, Margin: m})
	}
	sort.Slice(profile, func(i, j int) bool {
		if profile[i].Seq != profile[j].Seq {
			return profile[i].Seq < profile[j].Seq
		}
		return profile[i].Position < profile[j].Position
	})
	return profile, nil
}

func writeProfile(w io.Writer, profile []positionMargin) error {
	bw := bufio.NewWriter(w)
	for _, p := range profile {
		fmt.Fprintf(bw, "%s\t%d\t%s\n", p.Seq, p.Position, strconv.FormatFloat(p.Margin, 'g', -1, 64))
	}
	return bw.Flush()
}
