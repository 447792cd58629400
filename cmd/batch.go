package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/visa-pipeline/internal/model"
)

var batchLimit int

var batchCmd = &cobra.Command{
	Use:   "batch <intake-file>",
	Short: "Run a file of narratives through facts, classification and questions",
	Long: `Run a file of narratives through facts, classification and questions.

The intake file is YAML or JSON:

  submissions:
    - text: "Sou engenheiro de software com 8 anos de experiência..."
      language: pt
      user: applicant-42   # optional, defaults to --user`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		items, err := loadIntake(args[0])
		if err != nil {
			return err
		}

		env, err := initPipeline(ctx, "run")
		if err != nil {
			return err
		}
		defer env.Close()

		results, err := processBatch(ctx, items, batchLimit, cfg.Batch.MaxConcurrent, env.Orchestrator)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), results, outputFormat)
	},
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 100, "max number of narratives to process")
	rootCmd.AddCommand(batchCmd)
}

// intakeItem is one narrative in a batch intake file.
type intakeItem struct {
	Text     string `yaml:"text"`
	Language string `yaml:"language"`
	User     string `yaml:"user"`
}

type intakeFile struct {
	Submissions []intakeItem `yaml:"submissions"`
}

// batchResult reports how far one narrative got.
type batchResult struct {
	Index        int         `json:"index"`
	SubmissionID string      `json:"submission_id,omitempty"`
	Status       model.Stage `json:"status,omitempty"`
	Error        string      `json:"error,omitempty"`
}

// batchRunner is the subset of the orchestrator a batch needs.
type batchRunner interface {
	Create(ctx context.Context, userID, rawText string, lang model.Language) (*model.Submission, error)
	RunFacts(ctx context.Context, userID, id string) (*model.Submission, error)
	RunClassification(ctx context.Context, userID, id string) (*model.Submission, error)
	RunQuestions(ctx context.Context, userID, id string) (*model.Submission, error)
}

// loadIntake parses an intake file. JSON is accepted because it is valid YAML.
func loadIntake(path string) ([]intakeItem, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read intake file %s", path)
	}
	var f intakeFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, eris.Wrapf(err, "parse intake file %s", path)
	}
	items := f.Submissions[:0]
	for _, it := range f.Submissions {
		it.Text = strings.TrimSpace(it.Text)
		if it.Text == "" {
			continue
		}
		items = append(items, it)
	}
	return items, nil
}

// processBatch applies limit, then runs each item through the first three
// stages concurrently. A failed item is reported in its result and does not
// abort the batch.
func processBatch(ctx context.Context, items []intakeItem, limit, concurrency int, runner batchRunner) ([]batchResult, error) {
	if len(items) == 0 {
		zap.L().Info("no narratives in intake file")
		return []batchResult{}, nil
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	if concurrency < 1 {
		concurrency = 1
	}

	zap.L().Info("processing batch",
		zap.Int("narratives", len(items)),
		zap.Int("concurrency", concurrency),
	)

	results := make([]batchResult, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var succeeded, failed atomic.Int64

	for i, item := range items {
		g.Go(func() error {
			res := runItem(gctx, runner, item)
			res.Index = i
			results[i] = res

			log := zap.L().With(zap.Int("index", i), zap.String("submission_id", res.SubmissionID))
			if res.Error != "" {
				failed.Add(1)
				log.Error("batch item failed", zap.String("error", res.Error))
				return nil
			}
			succeeded.Add(1)
			log.Info("batch item complete", zap.String("status", string(res.Status)))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "batch processing")
	}

	zap.L().Info("batch complete",
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("failed", failed.Load()),
	)
	return results, nil
}

func runItem(ctx context.Context, runner batchRunner, item intakeItem) batchResult {
	user := item.User
	if user == "" {
		user = callerID
	}

	sub, err := runner.Create(ctx, user, item.Text, model.Language(item.Language))
	if err != nil {
		return batchResult{Error: model.ErrorCode(err)}
	}
	res := batchResult{SubmissionID: sub.ID, Status: sub.Status}

	for _, step := range []func(context.Context, string, string) (*model.Submission, error){
		runner.RunFacts,
		runner.RunClassification,
		runner.RunQuestions,
	} {
		next, err := step(ctx, user, sub.ID)
		if err != nil {
			res.Error = model.ErrorCode(err)
			zap.L().Debug("batch step failed", zap.String("submission_id", sub.ID), zap.Error(err))
			return res
		}
		res.Status = next.Status
	}
	return res
}
