package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ernst-schmid/foldpipe/pkg/config"
	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/ledger"
	"github.com/ernst-schmid/foldpipe/pkg/search"
)

type fakePredictor struct {
	mu       sync.Mutex
	jobs     []string
	features []features.FeatureMap
	err      error
}

func (p *fakePredictor) Predict(ctx context.Context, jobname string, fm features.FeatureMap) (*Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	p.jobs = append(p.jobs, jobname)
	p.features = append(p.features, fm)
	return &Prediction{
		PDB:    "ATOM      1  N   MET A   1\nEND\n",
		Scores: map[string]any{"plddt": 91.5},
	}, nil
}

func (p *fakePredictor) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

func newTestRunner(t *testing.T, client search.Client, pred Predictor) *Runner {
	t.Helper()
	return &Runner{
		Acquirer:  newTestAcquirer(t, client),
		Predictor: pred,
		FoldIDs:   NewFoldIDs(),
		Config: &config.RunConfig{
			MsaMode:             MsaModeUniRefEnv,
			ModelType:           "alphafold2_ptm",
			PairMode:            PairModeUnpaired,
			MaxSeq:              4,
			KeepExistingResults: true,
			Version:             "test",
		},
		ResultDir: t.TempDir(),
	}
}

func TestRunMonomerEndToEnd(t *testing.T) {
	pred := &fakePredictor{}
	r := newTestRunner(t, echoClient(nil), pred)

	queries := []Query{{Name: "job1", Sequences: []string{"ACDE"}}}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pred.calls() != 1 {
		t.Fatalf("predictor called %d times, want 1", pred.calls())
	}

	// alignment file round-trips through the codec despite the metadata record
	back, err := ReadMSAFile(r.ResultDir, "job1", []string{"ACDE"})
	if err != nil {
		t.Fatalf("ReadMSAFile: %v", err)
	}
	if back.UniqueSequences[0] != "ACDE" {
		t.Errorf("decoded query = %q", back.UniqueSequences[0])
	}

	pdb, err := os.ReadFile(filepath.Join(r.ResultDir, "job1_unrelaxed.pdb"))
	if err != nil {
		t.Fatalf("structure file missing: %v", err)
	}
	if !strings.Contains(string(pdb), "REMARK") || !strings.Contains(string(pdb), "ATOM") {
		t.Errorf("structure file not annotated:\n%s", pdb)
	}

	scores, err := filepath.Glob(filepath.Join(r.ResultDir, "job1_scores_*.json.xz"))
	if err != nil || len(scores) != 1 {
		t.Errorf("score files = %v, %v", scores, err)
	}
	if _, err := os.Stat(filepath.Join(r.ResultDir, "job1.done.txt")); err != nil {
		t.Errorf("done marker missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.ResultDir, config.FileName)); err != nil {
		t.Errorf("run config record missing: %v", err)
	}
}

func TestRunSkipsCompletedJobs(t *testing.T) {
	pred := &fakePredictor{}
	r := newTestRunner(t, echoClient(nil), pred)

	queries := []Query{{Name: "job1", Sequences: []string{"ACDE"}}}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if pred.calls() != 1 {
		t.Errorf("predictor called %d times across two runs, want 1", pred.calls())
	}
}

func TestRunOverwriteExistingResults(t *testing.T) {
	pred := &fakePredictor{}
	r := newTestRunner(t, echoClient(nil), pred)

	queries := []Query{{Name: "job1", Sequences: []string{"ACDE"}}}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	// with the keep flag off, the done marker no longer causes a skip
	r.Config.KeepExistingResults = false
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if pred.calls() != 2 {
		t.Errorf("predictor called %d times, want a recompute on the second run", pred.calls())
	}
}

func TestRunMonomerUsesFetchedTemplate(t *testing.T) {
	pred := &fakePredictor{}
	r := newTestRunner(t, echoClient(nil), pred)
	r.Acquirer.UseTemplates = true

	tmpl := features.Mock("ACDE")
	tmpl.DomainNames = []string{"1abc_A"}
	for i := range tmpl.ConfidenceScores.Data {
		tmpl.ConfidenceScores.Data[i] = 0.5
	}
	if err := r.Acquirer.Templates.PutTemplate("ACDE", tmpl); err != nil {
		t.Fatalf("PutTemplate: %v", err)
	}

	if err := r.Run(context.Background(), []Query{{Name: "job1", Sequences: []string{"ACDE"}}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pred.calls() != 1 {
		t.Fatalf("predictor called %d times, want 1", pred.calls())
	}

	scores := pred.features[0]["template_confidence_scores"]
	if scores == nil {
		t.Fatalf("template features missing from the monomer path")
	}
	if scores.At(0, 0) != 0.5 {
		t.Errorf("template confidence = %v, want the fetched template's 0.5", scores.At(0, 0))
	}
}

func TestRunFailedJobDoesNotStopOthers(t *testing.T) {
	client := search.Func(func(ctx context.Context, seqs []string, opts search.Options) (*search.Response, error) {
		if seqs[0] == "BBBB" {
			return nil, errors.New("service down")
		}
		resp := &search.Response{}
		for _, s := range seqs {
			resp.A3MLines = append(resp.A3MLines, selfAlignment(s))
			resp.TemplatePaths = append(resp.TemplatePaths, "")
		}
		return resp, nil
	})

	pred := &fakePredictor{}
	r := newTestRunner(t, client, pred)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "run.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer l.Close()
	r.Ledger = l

	queries := []Query{
		{Name: "bad", Sequences: []string{"BBBB"}},
		{Name: "good", Sequences: []string{"ACDE"}},
	}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if pred.calls() != 1 || pred.jobs[0] != "good" {
		t.Errorf("predictor ran %v, want only the good job", pred.jobs)
	}
	status, reason, err := l.Status(context.Background(), "bad")
	if err != nil || status != ledger.StatusFailed || !strings.Contains(reason, "service down") {
		t.Errorf("bad job: status = %q, reason = %q, err = %v", status, reason, err)
	}
	status, _, err = l.Status(context.Background(), "good")
	if err != nil || status != ledger.StatusDone {
		t.Errorf("good job: status = %q, err = %v", status, err)
	}
}

func TestRunPredictionErrorMarksJobFailed(t *testing.T) {
	pred := &fakePredictor{err: errors.New("out of memory")}
	r := newTestRunner(t, echoClient(nil), pred)
	l, err := ledger.Open(filepath.Join(t.TempDir(), "run.db"))
	if err != nil {
		t.Fatalf("ledger.Open: %v", err)
	}
	defer l.Close()
	r.Ledger = l

	if err := r.Run(context.Background(), []Query{{Name: "job1", Sequences: []string{"ACDE"}}}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	status, reason, err := l.Status(context.Background(), "job1")
	if err != nil || status != ledger.StatusFailed || !strings.Contains(reason, "out of memory") {
		t.Errorf("status = %q, reason = %q, err = %v", status, reason, err)
	}
	if _, err := os.Stat(filepath.Join(r.ResultDir, "job1.done.txt")); err == nil {
		t.Errorf("failed job left a done marker")
	}
}

func TestRunZipResults(t *testing.T) {
	pred := &fakePredictor{}
	r := newTestRunner(t, echoClient(nil), pred)
	r.Config.ZipResults = true

	queries := []Query{{Name: "job1", Sequences: []string{"ACDE"}}}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := os.Stat(filepath.Join(r.ResultDir, "job1.result.zip")); err != nil {
		t.Fatalf("result archive missing: %v", err)
	}

	// the archive doubles as the skip marker
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if pred.calls() != 1 {
		t.Errorf("predictor called %d times, want 1", pred.calls())
	}
}

func TestRunMultimerPath(t *testing.T) {
	pred := &fakePredictor{}
	r := newTestRunner(t, echoClient(nil), pred)
	r.Config.ModelType = "alphafold2_multimer_v3"
	r.Acquirer.PairMode = PairModeUnpairedPaired

	queries := []Query{{Name: "dimer", Sequences: []string{"AAA", "CCC"}}}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pred.calls() != 1 {
		t.Fatalf("predictor called %d times, want 1", pred.calls())
	}

	fm := pred.features[0]
	if fm["asym_id"] == nil || fm["entity_id"] == nil || fm["sym_id"] == nil {
		t.Errorf("assembly features missing from the multimer path")
	}
	if fm["msa_all_seq"] == nil {
		t.Errorf("paired block missing from the multimer path")
	}
	if fm["seq_length"].Data[0] != 6 {
		t.Errorf("seq_length = %v, want 6", fm["seq_length"].Data[0])
	}
}

func TestRunPrecomputedA3M(t *testing.T) {
	pred := &fakePredictor{}
	noSearch := search.Func(func(ctx context.Context, seqs []string, opts search.Options) (*search.Response, error) {
		return nil, errors.New("unexpected search")
	})
	r := newTestRunner(t, noSearch, pred)

	queries := []Query{{
		Name:      "precomputed",
		Sequences: []string{"ACDE"},
		A3MLines:  ">query\nACDE\n>hit\nAC-E\n",
	}}
	if err := r.Run(context.Background(), queries); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pred.calls() != 1 {
		t.Errorf("predictor called %d times, want 1", pred.calls())
	}
}
