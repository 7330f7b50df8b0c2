package msa

import (
	"strings"
	"testing"
)

func TestPairSequencesJoinsRows(t *testing.T) {
	blocks := []string{
		">q1\nACDE\n>hitA\nAC-E",
		">q2\nFFGG\n>hitB\nFF-G",
	}
	unique := []string{"ACDE", "FFGG"}
	cardinality := []int{1, 2}

	got, err := PairSequences(blocks, unique, cardinality)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 joined lines, got %d: %q", len(lines), got)
	}
	if lines[0] != ">q1\tq2" {
		t.Errorf("joined header = %q", lines[0])
	}
	// residues of the 2nd chain repeat per its cardinality
	if lines[1] != "ACDE"+"FFGG"+"FFGG" {
		t.Errorf("joined query row = %q", lines[1])
	}
	wantWidth := len("ACDE")*1 + len("FFGG")*2
	if len(lines[3]) != wantWidth {
		t.Errorf("paired row width = %d, want %d", len(lines[3]), wantWidth)
	}
}

func TestPairSequencesRowCountMismatch(t *testing.T) {
	blocks := []string{
		">q1\nACDE",
		">q2\nFFGG\n>extra\nFF-G",
	}
	if _, err := PairSequences(blocks, []string{"ACDE", "FFGG"}, []int{1, 1}); err == nil {
		t.Fatal("expected error for unequal row counts")
	}
}

func TestPadSequencesBlockDiagonal(t *testing.T) {
	blocks := []string{
		">q1\nACDE\n>hitA\nAC-E",
		">q2\nFFGG",
	}
	unique := []string{"ACDE", "FFGG"}
	cardinality := []int{1, 2}

	got := PadSequences(blocks, unique, cardinality)
	widths := []int{4, 4, 4}
	for _, line := range strings.Split(got, "\n") {
		if strings.HasPrefix(line, ">") || line == "" {
			continue
		}
		// exactly one segment is real, the rest are all gaps
		real := 0
		pos := 0
		for _, w := range widths {
			seg := line[pos : pos+w]
			if strings.Count(seg, "-") != len(seg) {
				real++
			}
			pos += w
		}
		if pos != len(line) {
			t.Fatalf("row width %d does not match chain layout: %q", len(line), line)
		}
		if real != 1 {
			t.Errorf("padded row has %d real segments, want 1: %q", real, line)
		}
	}
}

func TestCombinePolicy(t *testing.T) {
	unique := []string{"ACDE"}
	card := []int{1}
	unpaired := []string{">q\nACDE"}
	paired := []string{">q\nACDE"}

	if _, err := Combine(unique, card, nil, nil); err == nil {
		t.Fatal("neither paired nor unpaired must be a fatal configuration error")
	}
	if out, err := Combine(unique, card, nil, unpaired); err != nil || out == "" {
		t.Fatalf("unpaired-only combine failed: %v", err)
	}
	if out, err := Combine(unique, card, paired, nil); err != nil || out == "" {
		t.Fatalf("paired-only combine failed: %v", err)
	}
	both, err := Combine(unique, card, paired, unpaired)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(both, "\n") {
		t.Errorf("combined output missing padded section: %q", both)
	}
}
