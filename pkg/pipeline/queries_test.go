package pipeline

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestGetQueriesFasta(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.fasta",
		">mono some description\nACDEFG\n>dimer\nAAA:CCC\n")

	queries, err := GetQueries(path, "none")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(queries))
	}

	if queries[0].Name != "mono" || queries[0].IsComplex() {
		t.Errorf("first query = %+v", queries[0])
	}
	if queries[0].Sequences[0] != "ACDEFG" {
		t.Errorf("sequence = %q", queries[0].Sequences[0])
	}
	if !queries[1].IsComplex() || len(queries[1].Sequences) != 2 {
		t.Errorf("second query = %+v", queries[1])
	}
}

func TestGetQueriesCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.csv",
		"id,sequence\njob1,acde\njob2,AAA:AAA\n")

	queries, err := GetQueries(path, "none")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	if len(queries) != 2 {
		t.Fatalf("got %d queries, want 2", len(queries))
	}
	if queries[0].Sequences[0] != "ACDE" {
		t.Errorf("sequence not upper-cased: %q", queries[0].Sequences[0])
	}
	if !queries[1].IsComplex() {
		t.Errorf("homo-dimer row not detected as complex")
	}
}

func TestGetQueriesTSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.tsv",
		"id\tsequence\njob1\tACDE\n")

	queries, err := GetQueries(path, "none")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	if len(queries) != 1 || queries[0].Name != "job1" {
		t.Errorf("queries = %+v", queries)
	}
}

func TestGetQueriesA3M(t *testing.T) {
	path := writeFile(t, t.TempDir(), "complexjob.a3m",
		"#3,2\t1,1\n>101\tfirst\nAAACC\n>hit\tother\nAA-CC\n")

	queries, err := GetQueries(path, "none")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	q := queries[0]
	if q.Name != "complexjob" {
		t.Errorf("name = %q", q.Name)
	}
	if len(q.Sequences) != 2 || q.Sequences[0] != "AAA" || q.Sequences[1] != "CC" {
		t.Errorf("sequences = %v", q.Sequences)
	}
	if q.A3MLines == "" {
		t.Errorf("precomputed alignment text dropped")
	}
}

func TestGetQueriesPlainA3M(t *testing.T) {
	path := writeFile(t, t.TempDir(), "mono.a3m", ">query\nACDE\n>hit\nAC-E\n")

	queries, err := GetQueries(path, "none")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	q := queries[0]
	if len(q.Sequences) != 1 || q.Sequences[0] != "ACDE" {
		t.Errorf("sequences = %v", q.Sequences)
	}
}

func TestGetQueriesDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.fasta", ">job_a\nACDE\n")
	writeFile(t, dir, "b.fasta", ">job_b\nAC\n")
	writeFile(t, dir, "notes.txt", "not an input")

	_, err := GetQueries(dir, "none")
	if err == nil {
		t.Fatalf("expected an error for the unsupported file in the directory")
	}

	os.Remove(filepath.Join(dir, "notes.txt"))
	queries, err := GetQueries(dir, "none")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	if len(queries) != 2 {
		t.Errorf("got %d queries, want 2", len(queries))
	}
}

func TestGetQueriesSortByLength(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.fasta",
		">long\nACDEFGHIKL\n>short\nAC\n>mid\nACDE\n")

	queries, err := GetQueries(path, "length")
	if err != nil {
		t.Fatalf("GetQueries: %v", err)
	}
	want := []string{"short", "mid", "long"}
	for i, name := range want {
		if queries[i].Name != name {
			t.Errorf("queries[%d] = %s, want %s", i, queries[i].Name, name)
		}
	}
}

func TestGetQueriesUnknownSort(t *testing.T) {
	path := writeFile(t, t.TempDir(), "input.fasta", ">a\nACDE\n")
	if _, err := GetQueries(path, "alphabetical"); err == nil {
		t.Errorf("expected an error for an unknown sort order")
	}
}

func TestFoldIDsMemoized(t *testing.T) {
	ids := NewFoldIDs()
	a := ids.Get("job1")
	if a == "" {
		t.Fatalf("empty fold id")
	}
	if b := ids.Get("job1"); b != a {
		t.Errorf("fold id changed between calls: %s vs %s", a, b)
	}
	if c := ids.Get("job2"); c == a {
		t.Errorf("distinct jobs share a fold id")
	}
}
