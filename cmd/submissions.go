package main

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/visa-pipeline/internal/model"
	"github.com/sells-group/visa-pipeline/internal/orchestrator"
)

var (
	outputFormat string
	submitLang   string
	listLimit    int
	answersFile  string
)

// initReadEnv opens the store without a backend client, for commands that
// only read submissions.
func initReadEnv(ctx context.Context) (*pipelineEnv, error) {
	if err := cfg.Validate("migrate"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return &pipelineEnv{Store: st, Orchestrator: orchestrator.New(st, orchestrator.Stages{}, defaultLanguage(cfg.Pipeline))}, nil
}

var submitCmd = &cobra.Command{
	Use:   "submit [narrative]",
	Short: "Store a new applicant narrative",
	Long:  "Store a new applicant narrative. With no argument, or \"-\", the narrative is read from stdin.",
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readNarrative(args, cmd.InOrStdin())
		if err != nil {
			return err
		}

		env, err := initReadEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Orchestrator.Create(cmd.Context(), callerID, text, model.Language(submitLang))
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), sub, outputFormat)
	},
}

var showCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initReadEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Orchestrator.Get(cmd.Context(), callerID, args[0])
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), sub, outputFormat)
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent submissions",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initReadEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		subs, err := env.Orchestrator.List(cmd.Context(), callerID, listLimit)
		if err != nil {
			return err
		}
		if subs == nil {
			subs = []model.SubmissionSummary{}
		}
		return writeOutput(cmd.OutOrStdout(), subs, outputFormat)
	},
}

// stageOp selects the orchestrator operation a stage command runs.
type stageOp func(o *orchestrator.Orchestrator) func(ctx context.Context, userID, id string) (*model.Submission, error)

func newStageCmd(use, short string, op stageOp) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := initPipeline(cmd.Context(), "run")
			if err != nil {
				return err
			}
			defer env.Close()

			sub, err := op(env.Orchestrator)(cmd.Context(), callerID, args[0])
			if err != nil {
				return err
			}
			return writeOutput(cmd.OutOrStdout(), sub, outputFormat)
		},
	}
}

var answerCmd = &cobra.Command{
	Use:   "answer <id> [answer...]",
	Short: "Submit answers to the follow-up questions, in order",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		answers, err := readAnswers(args[1:], answersFile)
		if err != nil {
			return err
		}

		env, err := initReadEnv(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Orchestrator.SubmitAnswers(cmd.Context(), callerID, args[0], answers)
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), sub, outputFormat)
	},
}

var redoCmd = &cobra.Command{
	Use:   "redo <id> <facts|classification|questions>",
	Short: "Recompute a stage and clear everything downstream of it",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initPipeline(cmd.Context(), "run")
		if err != nil {
			return err
		}
		defer env.Close()

		sub, err := env.Orchestrator.Redo(cmd.Context(), callerID, args[0], args[1])
		if err != nil {
			return err
		}
		return writeOutput(cmd.OutOrStdout(), sub, outputFormat)
	},
}

// readNarrative joins args, or reads r when args are empty or "-".
func readNarrative(args []string, r io.Reader) (string, error) {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		b, err := io.ReadAll(r)
		if err != nil {
			return "", eris.Wrap(err, "read narrative from stdin")
		}
		return string(b), nil
	}
	return strings.Join(args, " "), nil
}

// readAnswers returns args, or the list stored in path (YAML or JSON).
func readAnswers(args []string, path string) ([]string, error) {
	if path == "" {
		return args, nil
	}
	if len(args) > 0 {
		return nil, eris.New("pass answers as arguments or with --file, not both")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read answers file %s", path)
	}
	var answers []string
	if err := yaml.Unmarshal(b, &answers); err != nil {
		return nil, eris.Wrapf(err, "parse answers file %s", path)
	}
	return answers, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "json", "output format: json or yaml")

	submitCmd.Flags().StringVar(&submitLang, "lang", "", "response language: pt or en (default pipeline.default_language)")
	listCmd.Flags().IntVar(&listLimit, "limit", 0, "max submissions to list (0 uses the store default)")
	answerCmd.Flags().StringVar(&answersFile, "file", "", "YAML or JSON list of answers")

	rootCmd.AddCommand(
		submitCmd,
		showCmd,
		listCmd,
		newStageCmd("facts", "Extract structured facts from the narrative",
			func(o *orchestrator.Orchestrator) func(context.Context, string, string) (*model.Submission, error) {
				return o.RunFacts
			}),
		newStageCmd("classify", "Rank candidate visas from the extracted facts",
			func(o *orchestrator.Orchestrator) func(context.Context, string, string) (*model.Submission, error) {
				return o.RunClassification
			}),
		newStageCmd("questions", "Generate follow-up questions for the candidate visas",
			func(o *orchestrator.Orchestrator) func(context.Context, string, string) (*model.Submission, error) {
				return o.RunQuestions
			}),
		answerCmd,
		newStageCmd("finalize", "Produce the final recommendation",
			func(o *orchestrator.Orchestrator) func(context.Context, string, string) (*model.Submission, error) {
				return o.Finalize
			}),
		redoCmd,
	)
}
