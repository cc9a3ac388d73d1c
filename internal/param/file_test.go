package param

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseDefinitions(t *testing.T) {
	input := `# NSPDK and model parameters
R 1 0 1 2 4
D 4 4 6

epsilon 0.1 0.1
`

	params, err := ParseDefinitions(strings.NewReader(input))
	if err != nil {
		t.Fatalf("ParseDefinitions failed: %v", err)
	}

	if len(params) != 3 {
		t.Fatalf("Expected 3 parameters, got %d", len(params))
	}

	r := params[0]
	if r.Name != "R" || r.Default != 1 {
		t.Errorf("First parameter: expected R with default 1, got %s/%g", r.Name, r.Default)
	}
	if len(r.Candidates) != 4 {
		t.Errorf("R: expected 4 candidates, got %d", len(r.Candidates))
	}

	eps := params[2]
	if len(eps.Candidates) != 1 {
		t.Errorf("epsilon: expected 1 candidate, got %d", len(eps.Candidates))
	}
}

func TestParseDefinitions_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty input", ""},
		{"only comments", "# nothing here\n"},
		{"too few fields", "R 1\n"},
		{"bad default", "R x 1 2\n"},
		{"bad candidate", "R 1 1 x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseDefinitions(strings.NewReader(tt.input)); err == nil {
				t.Errorf("Expected error for %s", tt.name)
			}
		})
	}
}

func TestLoadDefinitions_NotFound(t *testing.T) {
	if _, err := LoadDefinitions("/nonexistent/params.def"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestWriteVector_Format(t *testing.T) {
	v := Vector{
		{Name: "R", Value: 2},
		{Name: "D", Value: 4},
		{Name: "epsilon", Value: 0.1},
	}

	var sb strings.Builder
	if err := WriteVector(&sb, v); err != nil {
		t.Fatalf("WriteVector failed: %v", err)
	}

	expected := "R 2\nD 4\nepsilon 0.1\n"
	if sb.String() != expected {
		t.Errorf("WriteVector output %q, expected %q", sb.String(), expected)
	}
}

func TestVectorFile_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "param")

	v := Vector{
		{Name: "R", Value: 2},
		{Name: "D", Value: 6},
		{Name: "lambda", Value: 0.0042},
	}

	if err := WriteVectorFile(path, v); err != nil {
		t.Fatalf("WriteVectorFile failed: %v", err)
	}

	read, err := ReadVectorFile(path)
	if err != nil {
		t.Fatalf("ReadVectorFile failed: %v", err)
	}

	if len(read) != len(v) {
		t.Fatalf("Expected %d values, got %d", len(v), len(read))
	}
	for i := range v {
		if read[i] != v[i] {
			t.Errorf("Value %d: expected %+v, got %+v", i, v[i], read[i])
		}
	}
}

func TestReadVectorFile_OracleRewrite(t *testing.T) {
	// The oracle may rewrite the file in a different order with comments
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "param")

	content := "# rewritten by sgd\nlambda 0.001\nR 2\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	v, err := ReadVectorFile(path)
	if err != nil {
		t.Fatalf("ReadVectorFile failed: %v", err)
	}

	if got, ok := v.Lookup("lambda"); !ok || got != 0.001 {
		t.Errorf("Expected lambda=0.001, got %g (%v)", got, ok)
	}
	if got, ok := v.Lookup("R"); !ok || got != 2 {
		t.Errorf("Expected R=2, got %g (%v)", got, ok)
	}
}

func TestReadVectorFile_Malformed(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "param")

	if err := os.WriteFile(path, []byte("R 2 extra\n"), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	if _, err := ReadVectorFile(path); err == nil {
		t.Error("Expected error for malformed line")
	}
}
