package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"

	"github.com/ernst-schmid/foldpipe/pkg/config"
	"github.com/ernst-schmid/foldpipe/pkg/msa"
)

// ReadXZ reads and decompresses one xz file.
func ReadXZ(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := xz.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open xz stream %s: %w", path, err)
	}
	return io.ReadAll(r)
}

// WriteXZ compresses payload into path.
func WriteXZ(path string, payload []byte) error {
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("open xz stream: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("compress %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish xz stream: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// WriteMSAFile stores a job's serialized alignment as <job>.a3m.xz with one
// trailing metadata record naming the fold id and generation time.
func WriteMSAFile(dir, jobname, msaText, foldID string) error {
	record := fmt.Sprintf("%s fold_id=%s gen_time=%s\n",
		msa.MetadataMarker, foldID, time.Now().UTC().Format(time.RFC3339))
	text := strings.TrimRight(msaText, "\n") + "\n" + record
	return WriteXZ(filepath.Join(dir, jobname+".a3m.xz"), []byte(text))
}

// ReadMSAFile loads and decodes a previously written alignment file.
func ReadMSAFile(dir, jobname string, query []string) (*msa.JobMSA, error) {
	payload, err := ReadXZ(filepath.Join(dir, jobname+".a3m.xz"))
	if err != nil {
		return nil, err
	}
	return msa.Unserialize(string(payload), query)
}

// WriteScores stores a job's prediction scores as a compressed json file
// whose name carries the fold id plus a fresh file id, so repeated runs
// never clobber earlier score files.
func WriteScores(dir, jobname, foldID string, scores map[string]any) (string, error) {
	record := make(map[string]any, len(scores)+1)
	for k, v := range scores {
		record[k] = v
	}
	record["fold_id"] = foldID

	payload, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode scores: %w", err)
	}
	name := fmt.Sprintf("%s_scores_%s.json.xz", jobname, uuid.New().String())
	path := filepath.Join(dir, name)
	if err := WriteXZ(path, payload); err != nil {
		return "", err
	}
	return path, nil
}

// AnnotatePDB prepends REMARK records describing the run settings that
// produced the structure. The settings come from the run's saved
// config.json so the annotation reflects what was actually on disk.
func AnnotatePDB(pdbText string, cfg *config.RunConfig, foldID string) string {
	remarks := []string{
		fmt.Sprintf("REMARK   3 FOLD_ID %s", foldID),
		fmt.Sprintf("REMARK   3 MODEL_TYPE %s", cfg.ModelType),
		fmt.Sprintf("REMARK   3 MSA_MODE %s", cfg.MsaMode),
		fmt.Sprintf("REMARK   3 PAIR_MODE %s", cfg.PairMode),
		fmt.Sprintf("REMARK   3 NUM_RECYCLES %d", cfg.NumRecycles),
		fmt.Sprintf("REMARK   3 VERSION %s", cfg.Version),
	}
	return strings.Join(remarks, "\n") + "\n" + pdbText
}
