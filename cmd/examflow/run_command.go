package main

import (
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"examflow/internal/events"
	"examflow/internal/examrun"
	"examflow/internal/workflow"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		opts    examrun.Options
		sheets  int
		jsonOut bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "run [answer-sheet...]",
		Short: "Run an exam through every workflow stage with simulated processors",
		Long: `Run creates a workflow for the exam, completes student and template setup,
processes the given answer sheets (or --sheets synthetic ones), then marks and
reviews every sheet that passed analysis.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, closeLog, err := ctx.logger()
			if err != nil {
				return err
			}
			defer func() { _ = closeLog() }()

			files, err := answerSheets(args, sheets)
			if err != nil {
				return err
			}
			opts.Files = files
			if opts.Students == 0 {
				opts.Students = len(files)
			}

			out := cmd.OutOrStdout()
			if !quiet && !jsonOut {
				opts.Progress = stageReporter(cmd.ErrOrStderr())
			}

			signalCtx, cancel := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
			defer cancel()

			res, runErr := examrun.Run(signalCtx, cfg, opts, logger)
			if errors.Is(runErr, examrun.ErrAlreadyRunning) {
				return runErr
			}
			if res.Summary.WorkflowID != "" {
				if jsonOut {
					if err := writeJSON(cmd, res.Summary); err != nil {
						return err
					}
				} else {
					renderSummary(out, res.Summary, shouldColorize(out))
					fmt.Fprintf(out, "Archived %d tasks in %s\n", res.Archived, res.Elapsed.Round(time.Millisecond))
				}
			}
			return runErr
		},
	}

	cmd.Flags().StringVarP(&opts.ExamID, "exam", "e", "", "Exam identifier")
	cmd.Flags().IntVar(&opts.Students, "students", 0, "Number of students (defaults to the sheet count)")
	cmd.Flags().StringVar(&opts.StudentSrc, "student-source", "", "Where the student list came from")
	cmd.Flags().StringVar(&opts.TemplateID, "template", "", "Answer template identifier")
	cmd.Flags().StringVar(&opts.TemplateName, "template-name", "", "Answer template display name")
	cmd.Flags().IntVar(&opts.Questions, "questions", 0, "Number of questions on the template")
	cmd.Flags().Float64Var(&opts.TotalMarks, "total-marks", 100, "Maximum marks per sheet")
	cmd.Flags().IntVar(&sheets, "sheets", 0, "Generate this many synthetic answer sheets")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Print the final summary as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress stage progress lines")
	_ = cmd.MarkFlagRequired("exam")
	return cmd
}

func answerSheets(args []string, synthetic int) ([]string, error) {
	files := make([]string, 0, len(args)+synthetic)
	for _, arg := range args {
		if trimmed := strings.TrimSpace(arg); trimmed != "" {
			files = append(files, trimmed)
		}
	}
	for i := range synthetic {
		files = append(files, fmt.Sprintf("sheet-%04d.pdf", i+1))
	}
	if len(files) == 0 {
		return nil, errors.New("no answer sheets given; pass file names or --sheets N")
	}
	return files, nil
}

// stageReporter prints one line per stage transition.
func stageReporter(w io.Writer) events.Handler {
	colorize := shouldColorize(w)
	var mu sync.Mutex
	return func(ev events.Event) {
		e, ok := ev.(events.StageChanged)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, "%-18s %s\n", stageLabel(workflow.Stage(e.Stage)), paint(e.Status, colorize))
	}
}
