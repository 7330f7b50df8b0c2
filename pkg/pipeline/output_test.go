package pipeline

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/ernst-schmid/foldpipe/pkg/config"
	"github.com/ernst-schmid/foldpipe/pkg/msa"
)

func TestXZRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payload.xz")
	if err := WriteXZ(path, []byte("hello alignment world")); err != nil {
		t.Fatalf("WriteXZ: %v", err)
	}
	got, err := ReadXZ(path)
	if err != nil {
		t.Fatalf("ReadXZ: %v", err)
	}
	if string(got) != "hello alignment world" {
		t.Errorf("round trip = %q", got)
	}
}

func TestMSAFileCarriesMetadataRecord(t *testing.T) {
	dir := t.TempDir()
	m := &msa.JobMSA{
		Unpaired:        []string{">101\nACDE\n>hit\nA-DE\n"},
		UniqueSequences: []string{"ACDE"},
		Cardinality:     []int{1},
	}
	if err := WriteMSAFile(dir, "job1", m.String(), "fold-123"); err != nil {
		t.Fatalf("WriteMSAFile: %v", err)
	}

	raw, err := ReadXZ(filepath.Join(dir, "job1.a3m.xz"))
	if err != nil {
		t.Fatalf("ReadXZ: %v", err)
	}
	if !strings.Contains(string(raw), msa.MetadataMarker+" fold_id=fold-123") {
		t.Errorf("metadata record missing from %q", raw)
	}

	back, err := ReadMSAFile(dir, "job1", []string{"ACDE"})
	if err != nil {
		t.Fatalf("ReadMSAFile: %v", err)
	}
	if len(back.UniqueSequences) != 1 || back.UniqueSequences[0] != "ACDE" {
		t.Errorf("decode after metadata append = %+v", back)
	}
}

func TestAnnotatePDB(t *testing.T) {
	cfg := &config.RunConfig{ModelType: "alphafold2_ptm", MsaMode: "mmseqs2_uniref_env", NumRecycles: 3}
	out := AnnotatePDB("ATOM      1  N   MET A   1\nEND\n", cfg, "fold-123")

	if !strings.HasPrefix(out, "REMARK") {
		t.Fatalf("remarks not prepended:\n%s", out)
	}
	for _, want := range []string{"FOLD_ID fold-123", "MODEL_TYPE alphafold2_ptm", "NUM_RECYCLES 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("annotation missing %q", want)
		}
	}
	if !strings.Contains(out, "ATOM      1") {
		t.Errorf("structure body lost")
	}
}
