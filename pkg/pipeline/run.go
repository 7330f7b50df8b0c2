package pipeline

import (
	"archive/zip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ernst-schmid/foldpipe/internal/util"
	"github.com/ernst-schmid/foldpipe/logger"
	"github.com/ernst-schmid/foldpipe/pkg/config"
	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/ledger"
	"github.com/ernst-schmid/foldpipe/pkg/msa"
	"github.com/ernst-schmid/foldpipe/pkg/scheduler"
)

// Prediction is one job's model output.
type Prediction struct {
	PDB    string
	Scores map[string]any
}

// Predictor runs the structure model on assembled features.
type Predictor interface {
	Predict(ctx context.Context, jobname string, fm features.FeatureMap) (*Prediction, error)
}

// Runner drives a batch run: prefetched acquisition, feature assembly,
// prediction and result writing, with per-job failures logged and skipped.
type Runner struct {
	Acquirer      *Acquirer
	Predictor     Predictor
	Ledger        *ledger.Ledger
	FoldIDs       *FoldIDs
	Config        *config.RunConfig
	ResultDir     string
	PrefetchAhead int
}

// Run processes the queries in order. Setup problems abort the run; a
// single job failing is recorded and does not stop the others.
func (r *Runner) Run(ctx context.Context, queries []Query) error {
	if err := os.MkdirAll(r.ResultDir, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}
	r.Config.NumQueries = len(queries)
	if err := config.Save(r.ResultDir, r.Config); err != nil {
		return err
	}

	byName := make(map[string]Query, len(queries))
	var runnable []string
	for _, q := range queries {
		if r.isDone(q.Name) {
			logger.Info(fmt.Sprintf("skipping %s, already computed", q.Name))
			continue
		}
		if _, dup := byName[q.Name]; dup {
			logger.Warn(fmt.Sprintf("duplicate job name %s, keeping the first", q.Name))
			continue
		}
		byName[q.Name] = q
		runnable = append(runnable, q.Name)
	}
	if len(runnable) == 0 {
		logger.Info("nothing to do")
		return nil
	}

	ahead := r.PrefetchAhead
	if ahead < 1 {
		ahead = 1
	}
	pf := scheduler.New(r.fetch(byName), ahead)
	prefetchDone := make(chan struct{})
	go func() {
		pf.Run(ctx, runnable)
		close(prefetchDone)
	}()

	for _, name := range runnable {
		q := byName[name]
		foldID := r.FoldIDs.Get(name)
		logger.Info(fmt.Sprintf("running %s (fold id %s)", name, foldID))
		if r.Ledger != nil {
			if err := r.Ledger.Begin(ctx, name, foldID); err != nil {
				logger.Warn(fmt.Sprintf("ledger begin for %s: %v", name, err))
			}
		}

		v, err := pf.Wait(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				<-prefetchDone
				return ctx.Err()
			}
			r.failJob(ctx, name, fmt.Errorf("acquire inputs: %w", err))
			continue
		}
		inputs := v.(*JobInputs)

		if err := r.runJob(ctx, q, inputs, foldID); err != nil {
			r.failJob(ctx, name, err)
			continue
		}
		if r.Ledger != nil {
			if err := r.Ledger.Finish(ctx, name); err != nil {
				logger.Warn(fmt.Sprintf("ledger finish for %s: %v", name, err))
			}
		}
	}

	<-prefetchDone
	return nil
}

func (r *Runner) isDone(jobname string) bool {
	if !r.Config.KeepExistingResults {
		return false
	}
	for _, marker := range []string{jobname + ".done.txt", jobname + ".result.zip"} {
		if util.FileExists(filepath.Join(r.ResultDir, marker)) {
			return true
		}
	}
	return false
}

func (r *Runner) fetch(byName map[string]Query) scheduler.FetchFunc {
	return func(ctx context.Context, name string) (any, error) {
		q := byName[name]
		if q.A3MLines != "" {
			m, err := msa.Unserialize(q.A3MLines, q.Sequences)
			if err != nil {
				return nil, err
			}
			tmpls := make([]*features.TemplateFeature, len(m.UniqueSequences))
			for i, u := range m.UniqueSequences {
				tmpls[i] = features.Mock(u)
			}
			return &JobInputs{MSA: m, Templates: tmpls}, nil
		}
		return r.Acquirer.FetchMSAAndTemplates(ctx, name, q.Sequences)
	}
}

func (r *Runner) failJob(ctx context.Context, name string, err error) {
	logger.Error(fmt.Sprintf("job %s failed: %v", name, err))
	if r.Ledger != nil {
		if lerr := r.Ledger.Fail(ctx, name, err.Error()); lerr != nil {
			logger.Warn(fmt.Sprintf("ledger fail for %s: %v", name, lerr))
		}
	}
}

func (r *Runner) runJob(ctx context.Context, q Query, inputs *JobInputs, foldID string) error {
	m := inputs.MSA
	if err := WriteMSAFile(r.ResultDir, q.Name, m.String(), foldID); err != nil {
		return fmt.Errorf("write alignment file: %w", err)
	}

	fm, err := r.assemble(m, inputs.Templates)
	if err != nil {
		return fmt.Errorf("assemble features: %w", err)
	}

	pred, err := r.Predictor.Predict(ctx, q.Name, fm)
	if err != nil {
		return fmt.Errorf("predict: %w", err)
	}

	// annotate from the saved record, not the in-memory one, so the remarks
	// reflect what this run actually wrote to disk
	saved, err := config.Load(r.ResultDir)
	if err != nil {
		logger.Warn(fmt.Sprintf("could not re-read run config, annotating from memory: %v", err))
		saved = r.Config
	}
	pdbPath := filepath.Join(r.ResultDir, q.Name+"_unrelaxed.pdb")
	if err := os.WriteFile(pdbPath, []byte(AnnotatePDB(pred.PDB, saved, foldID)), 0o644); err != nil {
		return fmt.Errorf("write structure: %w", err)
	}

	scorePath, err := WriteScores(r.ResultDir, q.Name, foldID, pred.Scores)
	if err != nil {
		return fmt.Errorf("write scores: %w", err)
	}

	if r.Config.ZipResults {
		files := []string{
			filepath.Join(r.ResultDir, q.Name+".a3m.xz"),
			pdbPath,
			scorePath,
			filepath.Join(r.ResultDir, config.FileName),
		}
		if err := zipFiles(filepath.Join(r.ResultDir, q.Name+".result.zip"), files); err != nil {
			return fmt.Errorf("zip results: %w", err)
		}
		return nil
	}
	marker := filepath.Join(r.ResultDir, q.Name+".done.txt")
	if err := os.WriteFile(marker, nil, 0o644); err != nil {
		return fmt.Errorf("write done marker: %w", err)
	}
	return nil
}

// assemble picks the feature path: multimer models get per-chain blocks
// and assembly features, single-copy chains get the plain monomer build
// with their fetched template, and remaining complexes get the linear
// concatenation.
func (r *Runner) assemble(m *msa.JobMSA, tmpls []*features.TemplateFeature) (features.FeatureMap, error) {
	if !strings.Contains(r.Config.ModelType, "multimer") {
		if m.IsSingleProtein() {
			var tmpl *features.TemplateFeature
			if len(tmpls) > 0 {
				tmpl = tmpls[0]
			}
			var unpaired string
			if len(m.Unpaired) > 0 {
				unpaired = m.Unpaired[0]
			}
			return features.AssembleMonomer(m.UniqueSequences[0], unpaired, tmpl)
		}
		for _, t := range tmpls {
			if t.HasRealTemplates() {
				logger.Warn("found templates but the linear complex path does not use them")
				break
			}
		}
		return features.AssembleLinear(m.UniqueSequences, m.Cardinality, m.Paired, m.Unpaired)
	}
	return features.AssembleMultimer(m.UniqueSequences, m.Cardinality, m.Unpaired, m.Paired,
		tmpls, !m.IsSingleProtein(), r.Config.MaxSeq)
}

func zipFiles(dst string, files []string) error {
	f, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer f.Close()

	w := zip.NewWriter(f)
	for _, path := range files {
		payload, err := os.ReadFile(path)
		if err != nil {
			// jobs without one of the optional artifacts still zip cleanly
			continue
		}
		entry, err := w.Create(filepath.Base(path))
		if err != nil {
			return err
		}
		if _, err := entry.Write(payload); err != nil {
			return err
		}
	}
	return w.Close()
}
