package cache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ernst-schmid/foldpipe/logger"
	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/seqid"
)

// DefaultGrace is how long a freshly written entry is ignored by readers.
// A concurrent writer publishes with a rename, but a reader that raced the
// writer could still observe a just-renamed file mid-flight on some
// network filesystems, so entries younger than the grace window count as
// misses.
const DefaultGrace = 20 * time.Second

// Store is one content-addressed payload directory. Keys are sequence
// hashes, values are opaque payload files.
type Store struct {
	Dir     string
	Grace   time.Duration
	MinSize int64
}

// NewStore opens (creating if needed) a payload directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	return &Store{Dir: dir, Grace: DefaultGrace}, nil
}

func (s *Store) path(sequence string) string {
	return filepath.Join(s.Dir, seqid.ID(sequence)+".pkl")
}

// Get returns the cached payload for sequence, or ok=false on a miss.
// Entries smaller than MinSize or younger than Grace are misses.
func (s *Store) Get(sequence string) (payload []byte, ok bool) {
	p := s.path(sequence)
	info, err := os.Stat(p)
	if err != nil {
		return nil, false
	}
	if info.Size() < s.MinSize {
		return nil, false
	}
	if time.Since(info.ModTime()) < s.Grace {
		logger.Debug(fmt.Sprintf("cache entry %s inside grace window, treating as miss", filepath.Base(p)))
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		logger.Warn(fmt.Sprintf("could not read cache entry %s: %v", p, err))
		return nil, false
	}
	return data, true
}

// Put stores payload under the sequence's hash. The payload is written to
// a temp file in the same directory and renamed into place, so readers
// never see a partial entry.
func (s *Store) Put(sequence string, payload []byte) error {
	p := s.path(sequence)
	tmp, err := os.CreateTemp(s.Dir, filepath.Base(p)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write cache payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close cache payload: %w", err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// AlignmentStore caches per-sequence unpaired alignments. Payloads are
// validated against the requesting sequence before use, since a hash
// collision or a corrupt file would otherwise feed the wrong chain.
type AlignmentStore struct {
	*Store
}

// alignmentMinSize is the smallest plausible alignment payload; anything
// below it is a truncated write.
const alignmentMinSize = 100

// NewAlignmentStore opens dir's unpaired_msa_store subdirectory.
func NewAlignmentStore(dir string) (*AlignmentStore, error) {
	s, err := NewStore(filepath.Join(dir, "unpaired_msa_store"))
	if err != nil {
		return nil, err
	}
	s.MinSize = alignmentMinSize
	return &AlignmentStore{Store: s}, nil
}

// GetAlignment returns the cached alignment text for sequence. The entry
// only counts when its second line matches the sequence exactly.
func (s *AlignmentStore) GetAlignment(sequence string) (string, bool) {
	payload, ok := s.Get(sequence)
	if !ok {
		return "", false
	}
	text := string(payload)
	lines := strings.Split(text, "\n")
	if len(lines) < 2 || lines[1] != sequence {
		logger.Warn(fmt.Sprintf("cached alignment for %s does not open with its own sequence, ignoring", seqid.ID(sequence)))
		return "", false
	}
	return text, true
}

// PutAlignment stores alignment text for sequence.
func (s *AlignmentStore) PutAlignment(sequence, a3mText string) error {
	return s.Put(sequence, []byte(a3mText))
}

// TemplateStore caches per-sequence template features.
type TemplateStore struct {
	*Store
}

// NewTemplateStore opens dir's template_store subdirectory.
func NewTemplateStore(dir string) (*TemplateStore, error) {
	s, err := NewStore(filepath.Join(dir, "template_store"))
	if err != nil {
		return nil, err
	}
	return &TemplateStore{Store: s}, nil
}

// GetTemplate returns the cached template feature for sequence. Entries
// whose residue count disagrees with the sequence length are misses.
func (s *TemplateStore) GetTemplate(sequence string) (*features.TemplateFeature, bool) {
	payload, ok := s.Get(sequence)
	if !ok {
		return nil, false
	}
	f, err := features.DecodeTemplate(payload)
	if err != nil {
		logger.Warn(fmt.Sprintf("could not decode cached template for %s: %v", seqid.ID(sequence), err))
		return nil, false
	}
	if f.NumResidues() != len(sequence) {
		logger.Warn(fmt.Sprintf("cached template for %s covers %d residues, want %d, ignoring",
			seqid.ID(sequence), f.NumResidues(), len(sequence)))
		return nil, false
	}
	return f, true
}

// PutTemplate stores a template feature for sequence.
func (s *TemplateStore) PutTemplate(sequence string, f *features.TemplateFeature) error {
	payload, err := features.EncodeTemplate(f)
	if err != nil {
		return fmt.Errorf("encode template: %w", err)
	}
	return s.Put(sequence, payload)
}
