// Package predict runs the structure model through an external command,
// the same way other external tools are driven: features go in as a json
// file, the structure and scores come back as files.
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/pipeline"
)

// ExecPredictor shells out to Command as
//
//	<command> --features <features.json> --output <dir> --job <name>
//
// and expects <dir>/<name>.pdb plus <dir>/<name>.scores.json back.
type ExecPredictor struct {
	Command string
	WorkDir string
}

func (p *ExecPredictor) Predict(ctx context.Context, jobname string, fm features.FeatureMap) (*pipeline.Prediction, error) {
	dir := p.WorkDir
	if dir == "" {
		dir = os.TempDir()
	}
	featPath := filepath.Join(dir, jobname+".features.json")
	payload, err := json.Marshal(fm)
	if err != nil {
		return nil, fmt.Errorf("encode features: %w", err)
	}
	if err := os.WriteFile(featPath, payload, 0o644); err != nil {
		return nil, fmt.Errorf("write features: %w", err)
	}
	defer os.Remove(featPath)

	args := []string{"--features", featPath, "--output", dir, "--job", jobname}
	cmd := exec.CommandContext(ctx, p.Command, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("%w: predictor failed: %s", err, output)
	}

	pdb, err := os.ReadFile(filepath.Join(dir, jobname+".pdb"))
	if err != nil {
		return nil, fmt.Errorf("predictor wrote no structure: %w", err)
	}
	scoresRaw, err := os.ReadFile(filepath.Join(dir, jobname+".scores.json"))
	if err != nil {
		return nil, fmt.Errorf("predictor wrote no scores: %w", err)
	}
	var scores map[string]any
	if err := json.Unmarshal(scoresRaw, &scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	return &pipeline.Prediction{PDB: string(pdb), Scores: scores}, nil
}
