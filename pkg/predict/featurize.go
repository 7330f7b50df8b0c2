package predict

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/seqid"
)

// ExecFeaturizer turns downloaded structural hits into template features by
// shelling out to the structure search toolchain as
//
//	<command> --a3m <alignment.a3m> --templates <dir> --output <features.json>
//
// and reading the written feature file back.
type ExecFeaturizer struct {
	Command string
	WorkDir string
}

func (f *ExecFeaturizer) Features(a3mText string, templatePath string, querySequence string) (*features.TemplateFeature, error) {
	dir := f.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	key := seqid.ID(querySequence)
	a3mPath := filepath.Join(dir, key+".templates.a3m")
	outPath := filepath.Join(dir, key+".templates.json")
	if err := os.WriteFile(a3mPath, []byte(a3mText), 0o644); err != nil {
		return nil, fmt.Errorf("write alignment: %w", err)
	}
	defer os.Remove(a3mPath)
	defer os.Remove(outPath)

	args := []string{"--a3m", a3mPath, "--templates", templatePath, "--output", outPath}
	cmd := exec.Command(f.Command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: featurizer failed: %s", err, output)
	}

	payload, err := os.ReadFile(outPath)
	if err != nil {
		return nil, fmt.Errorf("featurizer wrote no features: %w", err)
	}
	tmpl, err := features.DecodeTemplate(payload)
	if err != nil {
		return nil, fmt.Errorf("decode template features: %w", err)
	}
	if tmpl.NumResidues() != len(querySequence) {
		return nil, fmt.Errorf("featurizer covered %d residues, want %d", tmpl.NumResidues(), len(querySequence))
	}
	return tmpl, nil
}
