package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"caseweaver/internal/config"
	"caseweaver/internal/generation"
	"caseweaver/internal/pipeline"
	"caseweaver/internal/schema"
	"caseweaver/internal/similarity"
	"caseweaver/internal/store"
)

func generateCmd() *cobra.Command {
	var (
		premise        string
		count          int
		skipSimilarity bool
		strict         bool
		skipStages     []string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Run the full generation pipeline for one or more cases",
		RunE: func(cmd *cobra.Command, args []string) error {
			if premise == "" {
				return fmt.Errorf("--premise is required")
			}
			if count < 1 {
				count = 1
			}

			cfg, err := config.Load(flagConfig)
			if err != nil {
				return err
			}
			if skipSimilarity {
				cfg.Pipeline.SkipSimilarity = true
			}
			if strict {
				cfg.Pipeline.StrictSimilarity = true
			}
			cfg.Pipeline.SkipStages = append(cfg.Pipeline.SkipStages, skipStages...)

			logger, err := buildLogger(cfg.Logging.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runGenerate(ctx, cfg, logger, premise, count)
		},
	}

	cmd.Flags().StringVarP(&premise, "premise", "p", "", "one-line premise seeding the case")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "number of independent cases to generate")
	cmd.Flags().BoolVar(&skipSimilarity, "skip-similarity", false, "skip the terminal similarity gate")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail the run when the similarity gate fails")
	cmd.Flags().StringSliceVar(&skipStages, "skip-stage", nil, "optional stage ids to skip (repeatable)")

	return cmd
}

func runGenerate(ctx context.Context, cfg config.Config, logger *zap.Logger, premise string, count int) error {
	timeout, err := cfg.LLMTimeout()
	if err != nil {
		return err
	}
	client := generation.NewGeminiClient(generation.GeminiConfig{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		Timeout:        timeout,
		InputCostPerM:  cfg.LLM.InputCostPerM,
		OutputCostPerM: cfg.LLM.OutputCostPerM,
	})

	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return err
	}
	defer st.Close()

	var (
		scorer     *similarity.Scorer
		references []similarity.Reference
	)
	if !cfg.Pipeline.SkipSimilarity {
		references, err = st.ListReferences()
		if err != nil {
			return err
		}
		scorer, err = buildScorer(ctx, cfg, logger)
		if err != nil {
			return err
		}
		if len(references) == 0 {
			logger.Info("no reference cases yet; similarity gate will pass trivially")
		}
	}

	skip := map[string]bool{}
	for _, id := range cfg.Pipeline.SkipStages {
		skip[id] = true
	}

	// Runs are independent; the client serializes its own requests, the
	// store serializes its own writes.
	var printMu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < count; i++ {
		g.Go(func() error {
			runID := uuid.NewString()
			orc, err := pipeline.New(pipeline.Config{
				RunID:            runID,
				Stages:           generation.Stages(client, premise),
				Validator:        schema.CaseDocument(),
				Reviser:          generation.ReviseFunc(client),
				Scorer:           scorer,
				References:       references,
				Observer:         progressPrinter(runID, &printMu),
				MaxRevisions:     cfg.Pipeline.MaxRevisions,
				StrictSimilarity: cfg.Pipeline.StrictSimilarity,
				SkipStages:       skip,
				Logger:           logger.With(zap.String("run", runID)),
			})
			if err != nil {
				return err
			}

			result, runErr := orc.Run(ctx)
			if saveErr := st.SaveResult(premise, result); saveErr != nil {
				logger.Error("failed to persist run", zap.String("run", runID), zap.Error(saveErr))
			}

			printMu.Lock()
			fmt.Println(pipeline.Summary(result))
			printMu.Unlock()

			if runErr != nil {
				var cancelled *pipeline.CancelledError
				if errors.As(runErr, &cancelled) {
					return runErr
				}
				// A failed sibling run should not cancel the others.
				logger.Error("run failed", zap.String("run", runID), zap.Error(runErr))
				return nil
			}
			return nil
		})
	}
	return g.Wait()
}

// buildScorer assembles the similarity gate from config. When semantic
// scoring is enabled a fifth embedding-backed dimension joins the lexical
// four, taking a quarter of the total weight.
func buildScorer(ctx context.Context, cfg config.Config, logger *zap.Logger) (*similarity.Scorer, error) {
	simCfg := similarity.DefaultConfig()
	simCfg.WarnFloor = cfg.Similarity.WarnFloor
	simCfg.FailFloor = cfg.Similarity.FailFloor

	if cfg.Similarity.Semantic {
		if cfg.LLM.APIKey == "" {
			return nil, fmt.Errorf("similarity: semantic scoring requires an API key")
		}
		embedder, err := similarity.NewGenAIEmbedder(ctx, cfg.LLM.APIKey, "")
		if err != nil {
			return nil, err
		}
		for name, w := range simCfg.Weights {
			simCfg.Weights[name] = w * 0.75
		}
		simCfg.Weights["semantic"] = 0.25
		simCfg.Comparators["semantic"] = similarity.SemanticComparator(ctx, embedder, "CASE.premise", logger)
	}

	return similarity.NewScorer(simCfg)
}

// progressPrinter prints observer events as a flat progress log. Concurrent
// runs interleave; the run prefix keeps lines attributable.
func progressPrinter(runID string, mu *sync.Mutex) pipeline.ObserverFunc {
	short := runID
	if len(short) > 8 {
		short = short[:8]
	}
	return func(stageID string, fraction float64, message string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Printf("[%s %3.0f%%] %s\n", short, fraction*100, message)
	}
}
