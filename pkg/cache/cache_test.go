package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/seqid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	s.Grace = 0
	return s
}

// age back-dates an entry so it clears the grace window.
func age(t *testing.T, s *Store, sequence string) {
	t.Helper()
	p := filepath.Join(s.Dir, seqid.ID(sequence)+".pkl")
	old := time.Now().Add(-time.Minute)
	if err := os.Chtimes(p, old, old); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok := s.Get("ACDE"); ok {
		t.Fatalf("hit on an empty store")
	}
	if err := s.Put("ACDE", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok := s.Get("ACDE")
	if !ok || string(got) != "payload" {
		t.Errorf("Get = %q, %v; want payload, true", got, ok)
	}
	if _, ok := s.Get("OTHER"); ok {
		t.Errorf("hit for a sequence that was never stored")
	}
}

func TestStoreGraceWindow(t *testing.T) {
	s := newTestStore(t)
	s.Grace = time.Hour

	if err := s.Put("ACDE", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := s.Get("ACDE"); ok {
		t.Errorf("fresh entry served inside the grace window")
	}
	age(t, s, "ACDE")
	if _, ok := s.Get("ACDE"); !ok {
		t.Errorf("aged entry still treated as a miss")
	}
}

func TestStoreMinSize(t *testing.T) {
	s := newTestStore(t)
	s.MinSize = 100

	if err := s.Put("ACDE", []byte("tiny")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := s.Get("ACDE"); ok {
		t.Errorf("undersized entry served")
	}
}

func TestStorePutLeavesNoTempFiles(t *testing.T) {
	s := newTestStore(t)
	if err := s.Put("ACDE", []byte("payload")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("expected exactly the published entry, found %d files", len(entries))
	}
}

func TestAlignmentStoreValidation(t *testing.T) {
	s, err := NewAlignmentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewAlignmentStore: %v", err)
	}
	s.Grace = 0
	s.MinSize = 0

	good := ">101\nACDE\n>hit\nAC-E\n"
	if err := s.PutAlignment("ACDE", good); err != nil {
		t.Fatalf("PutAlignment: %v", err)
	}
	got, ok := s.GetAlignment("ACDE")
	if !ok || got != good {
		t.Errorf("GetAlignment = %q, %v", got, ok)
	}

	// payload whose leading record is some other chain is a miss
	if err := s.PutAlignment("WXYZ", good); err != nil {
		t.Fatalf("PutAlignment: %v", err)
	}
	if _, ok := s.GetAlignment("WXYZ"); ok {
		t.Errorf("mismatched payload served")
	}
}

func TestAlignmentStoreRejectsTruncatedEntries(t *testing.T) {
	s, err := NewAlignmentStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewAlignmentStore: %v", err)
	}
	s.Grace = 0

	if err := s.PutAlignment("ACDE", ">101\nACDE\n"); err != nil {
		t.Fatalf("PutAlignment: %v", err)
	}
	if _, ok := s.GetAlignment("ACDE"); ok {
		t.Errorf("truncated alignment entry served")
	}

	full := ">101\nACDE\n" + strings.Repeat(">hit\nAC-E\n", 20)
	if err := s.PutAlignment("ACDE", full); err != nil {
		t.Fatalf("PutAlignment: %v", err)
	}
	if got, ok := s.GetAlignment("ACDE"); !ok || got != full {
		t.Errorf("realistically sized entry missed")
	}
}

func TestTemplateStoreValidation(t *testing.T) {
	s, err := NewTemplateStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewTemplateStore: %v", err)
	}
	s.Grace = 0

	if err := s.PutTemplate("ACDE", features.Mock("ACDE")); err != nil {
		t.Fatalf("PutTemplate: %v", err)
	}
	f, ok := s.GetTemplate("ACDE")
	if !ok {
		t.Fatalf("template entry missed")
	}
	if f.NumResidues() != 4 {
		t.Errorf("residues = %d, want 4", f.NumResidues())
	}

	// a payload built for a different length is a miss
	if err := s.PutTemplate("WX", features.Mock("ACDE")); err != nil {
		t.Fatalf("PutTemplate: %v", err)
	}
	if _, ok := s.GetTemplate("WX"); ok {
		t.Errorf("wrong-length template served")
	}

	// garbage payloads are misses, not errors
	if err := s.Put("QQQQ", []byte("not json")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := s.GetTemplate("QQQQ"); ok {
		t.Errorf("undecodable template served")
	}
}
