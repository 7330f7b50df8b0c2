package main

import (
	"context"
	"fmt"
	"os"
	"path"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ernst-schmid/foldpipe/logger"
	"github.com/ernst-schmid/foldpipe/pkg/cache"
	"github.com/ernst-schmid/foldpipe/pkg/config"
	"github.com/ernst-schmid/foldpipe/pkg/features"
	"github.com/ernst-schmid/foldpipe/pkg/ledger"
	"github.com/ernst-schmid/foldpipe/pkg/pipeline"
	"github.com/ernst-schmid/foldpipe/pkg/predict"
	"github.com/ernst-schmid/foldpipe/pkg/search/mmseqs"
)

const VERSION = "1.0.0"

type runFlags struct {
	msaMode           string
	pairMode          string
	modelType         string
	numModels         int
	numRecycles       int
	maxSeq            int
	useTemplates      bool
	hostURL           string
	sortQueriesBy     string
	zipResults        bool
	cacheDir          string
	predictCmd        string
	featurizeCmd      string
	prefetch          int
	overwriteExisting bool
	verbose           bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "foldpipe <input> <results>",
		Short: "Batch MSA acquisition and structure prediction driver",
		Long: `foldpipe reads prediction jobs from a fasta/csv/a3m input, acquires
alignments and templates (cache first, remote search second), assembles
model features and drives an external structure predictor over the batch.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], args[1], flags)
		},
	}

	cmd.Flags().StringVar(&flags.msaMode, "msa-mode", pipeline.MsaModeUniRefEnv,
		"alignment source: mmseqs2_uniref_env, mmseqs2_uniref or single_sequence")
	cmd.Flags().StringVar(&flags.pairMode, "pair-mode", pipeline.PairModeUnpairedPaired,
		"complex pairing: unpaired, paired or unpaired_paired")
	cmd.Flags().StringVar(&flags.modelType, "model-type", "alphafold2_multimer_v3", "model weights to request")
	cmd.Flags().IntVar(&flags.numModels, "num-models", 5, "models per job")
	cmd.Flags().IntVar(&flags.numRecycles, "num-recycles", 3, "recycles per model")
	cmd.Flags().IntVar(&flags.maxSeq, "max-seq", 508, "alignment depth given to the model")
	cmd.Flags().BoolVar(&flags.useTemplates, "templates", false, "search for structural templates")
	cmd.Flags().StringVar(&flags.hostURL, "host-url", "", "search service endpoint (default $FOLDPIPE_HOST)")
	cmd.Flags().StringVar(&flags.sortQueriesBy, "sort-queries-by", "length", "job order: none, length or random")
	cmd.Flags().BoolVar(&flags.zipResults, "zip", false, "archive each job's results into <job>.result.zip")
	cmd.Flags().StringVar(&flags.cacheDir, "cache", "", "alignment/template cache directory (default $FOLDPIPE_CACHE)")
	cmd.Flags().StringVar(&flags.predictCmd, "predict-cmd", "", "external predictor command (default $FOLDPIPE_PREDICT)")
	cmd.Flags().StringVar(&flags.featurizeCmd, "featurize-cmd", "", "template featurizer command (default $FOLDPIPE_FEATURIZE)")
	cmd.Flags().IntVar(&flags.prefetch, "prefetch", 1, "jobs to acquire ahead of prediction")
	cmd.Flags().BoolVar(&flags.overwriteExisting, "overwrite-existing-results", false,
		"recompute jobs whose done marker or result archive already exists")
	cmd.Flags().BoolVarP(&flags.verbose, "verbose", "v", false, "debug logging")

	return cmd
}

func run(input, results string, flags *runFlags) error {
	if err := os.MkdirAll(results, 0o755); err != nil {
		return fmt.Errorf("create result dir: %w", err)
	}

	logLevel := zapcore.InfoLevel
	if flags.verbose {
		logLevel = zapcore.DebugLevel
	}
	if err := logger.InitLoggerWithFile(logLevel, path.Join(results, "log.txt")); err != nil {
		panic(err)
	}
	defer logger.Sync()

	// Try load env
	if err := godotenv.Load(); err != nil {
		logger.Warn("No .env found, using local environment")
	}
	if flags.cacheDir == "" {
		flags.cacheDir = os.Getenv("FOLDPIPE_CACHE")
	}
	if flags.cacheDir == "" {
		logger.Warn("No cache directory (FOLDPIPE_CACHE), caching inside the result dir")
		flags.cacheDir = results
	}
	if flags.hostURL == "" {
		flags.hostURL = os.Getenv("FOLDPIPE_HOST")
	}
	if flags.predictCmd == "" {
		flags.predictCmd = os.Getenv("FOLDPIPE_PREDICT")
	}
	if flags.predictCmd == "" {
		return fmt.Errorf("no predictor command: pass --predict-cmd or set FOLDPIPE_PREDICT")
	}
	if flags.featurizeCmd == "" {
		flags.featurizeCmd = os.Getenv("FOLDPIPE_FEATURIZE")
	}
	if flags.useTemplates && flags.featurizeCmd == "" {
		logger.Warn("No template featurizer (FOLDPIPE_FEATURIZE), hits fall back to mock templates")
	}

	logger.Info("Start:", zap.String("Version", VERSION))

	queries, err := pipeline.GetQueries(input, flags.sortQueriesBy)
	if err != nil {
		return err
	}
	logger.Info("Loaded queries", zap.Int("count", len(queries)))

	alignments, err := cache.NewAlignmentStore(flags.cacheDir)
	if err != nil {
		return err
	}
	templates, err := cache.NewTemplateStore(flags.cacheDir)
	if err != nil {
		return err
	}

	runLedger, err := ledger.Open(path.Join(results, "run.db"))
	if err != nil {
		return err
	}
	defer runLedger.Close()

	client := mmseqs.NewClient(flags.hostURL)
	client.UserAgent = "foldpipe/" + VERSION
	client.TemplateDir = path.Join(flags.cacheDir, "templates")

	var featurizer features.Featurizer
	if flags.featurizeCmd != "" {
		featurizer = &predict.ExecFeaturizer{Command: flags.featurizeCmd, WorkDir: results}
	}

	runner := &pipeline.Runner{
		Acquirer: &pipeline.Acquirer{
			Client:       client,
			Alignments:   alignments,
			Templates:    templates,
			Featurizer:   featurizer,
			MsaMode:      flags.msaMode,
			PairMode:     flags.pairMode,
			UseTemplates: flags.useTemplates,
			HostURL:      flags.hostURL,
		},
		Predictor: &predict.ExecPredictor{Command: flags.predictCmd, WorkDir: results},
		Ledger:    runLedger,
		FoldIDs:   pipeline.NewFoldIDs(),
		Config: &config.RunConfig{
			MsaMode:             flags.msaMode,
			PairMode:            flags.pairMode,
			ModelType:           flags.modelType,
			NumModels:           flags.numModels,
			NumRecycles:         flags.numRecycles,
			MaxSeq:              flags.maxSeq,
			UseTemplates:        flags.useTemplates,
			HostURL:             flags.hostURL,
			KeepExistingResults: !flags.overwriteExisting,
			SortQueriesBy:       flags.sortQueriesBy,
			ZipResults:          flags.zipResults,
			UserAgent:           "foldpipe/" + VERSION,
			Version:             VERSION,
		},
		ResultDir:     results,
		PrefetchAhead: flags.prefetch,
	}

	if err := runner.Run(context.Background(), queries); err != nil {
		logger.Error("Run aborted", zap.String("error message", err.Error()))
		return err
	}

	summary, err := runLedger.Summary(context.Background())
	if err != nil {
		logger.Warn("Could not summarize the run", zap.String("error message", err.Error()))
		return nil
	}
	logger.Info("Run finished",
		zap.Int("done", summary[ledger.StatusDone]),
		zap.Int("failed", summary[ledger.StatusFailed]))
	return nil
}
