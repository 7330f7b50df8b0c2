package predict

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ernst-schmid/foldpipe/pkg/features"
)

// writeFakeFeaturizer installs a shell script that stands in for the
// structure search toolchain: it echoes a canned template feature file.
func writeFakeFeaturizer(t *testing.T, dir string, sequence string) string {
	t.Helper()
	tmpl := features.Mock(sequence)
	tmpl.DomainNames = []string{"1abc_A"}
	payload, err := features.EncodeTemplate(tmpl)
	if err != nil {
		t.Fatalf("EncodeTemplate: %v", err)
	}
	canned := filepath.Join(dir, "canned.json")
	if err := os.WriteFile(canned, payload, 0o644); err != nil {
		t.Fatalf("write canned features: %v", err)
	}

	script := `#!/bin/sh
out=""
while [ $# -gt 0 ]; do
  case "$1" in
    --output) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cp ` + canned + ` "$out"
`
	path := filepath.Join(dir, "fake-featurizer.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func TestExecFeaturizer(t *testing.T) {
	dir := t.TempDir()
	f := &ExecFeaturizer{Command: writeFakeFeaturizer(t, dir, "ACDE"), WorkDir: dir}

	tmpl, err := f.Features(">101\nACDE\n", dir, "ACDE")
	if err != nil {
		t.Fatalf("Features: %v", err)
	}
	if !tmpl.HasRealTemplates() {
		t.Errorf("featurized template marked as mock")
	}
	if tmpl.NumResidues() != 4 {
		t.Errorf("residues = %d, want 4", tmpl.NumResidues())
	}
}

func TestExecFeaturizerLengthMismatch(t *testing.T) {
	dir := t.TempDir()
	f := &ExecFeaturizer{Command: writeFakeFeaturizer(t, dir, "ACDE"), WorkDir: dir}

	if _, err := f.Features(">101\nAC\n", dir, "AC"); err == nil {
		t.Errorf("expected an error for a residue count mismatch")
	}
}
