// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/util"
)

type reviewFlags struct {
	stream       bool
	attempts     int
	model        string
	outputDir    string
	json         bool
	shareContext bool
}

func (f *reviewFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.stream, "stream", false, "stream responses (overrides review.stream)")
	cmd.Flags().IntVar(&f.attempts, "attempts", 0, "attempt budget per task (overrides review.max_attempts)")
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "model for every task (overrides endpoint.default_model)")
	cmd.Flags().StringVarP(&f.outputDir, "output-dir", "o", "", "write each result to DIR/<name>.review.md")
	cmd.Flags().BoolVar(&f.json, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&f.shareContext, "share-context", false, "keep conversation history across tasks")
}

// apply folds flag overrides into the loaded config.
func (f *reviewFlags) apply(cmd *cobra.Command, a *app) error {
	if cmd.Flags().Changed("stream") {
		a.cfg.Review.Stream = f.stream
	}
	if f.attempts != 0 {
		a.cfg.Review.MaxAttempts = f.attempts
	}
	if f.model != "" {
		a.cfg.Endpoint.DefaultModel = f.model
	}
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	if f.outputDir != "" {
		if err := os.MkdirAll(f.outputDir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	return nil
}

// fragmentWriter echoes streamed text when results go to the terminal.
func (f *reviewFlags) fragmentWriter(w io.Writer) func(review.Task, int, string) {
	if f.json || f.outputDir != "" {
		return nil
	}
	last := 0
	return func(_ review.Task, attempt int, fragment string) {
		if attempt != last {
			if attempt > 1 {
				fmt.Fprintf(w, "\n%s\n", dimStyle(fmt.Sprintf("-- retry, attempt %d --", attempt)))
			}
			last = attempt
		}
		io.WriteString(w, fragment)
	}
}

// emit writes one result's text. Streamed text has already been echoed.
func (f *reviewFlags) emit(w io.Writer, a *app, r *review.Result) error {
	if f.json {
		return nil
	}
	if f.outputDir != "" {
		if r.State == review.StateFailed {
			return nil
		}
		path := filepath.Join(f.outputDir, outputName(r.TaskName))
		if err := util.AtomicWriteFile(path, []byte(r.Text), 0644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
		a.log.WithField("file", path).Info("Wrote review")
		return nil
	}
	if a.cfg.Review.Stream {
		fmt.Fprintln(w)
		return nil
	}
	fmt.Fprintf(w, "%s\n%s\n", headerStyle("== "+r.TaskName+" =="), strings.TrimRight(r.Text, "\n"))
	return nil
}

func newReviewCmd(flags *globalFlags) *cobra.Command {
	rf := &reviewFlags{}

	cmd := &cobra.Command{
		Use:   "review FILE...",
		Short: "Review prompt files with validation and retry",
		Long: `Each file holds one finished review prompt. Files run in order; every
response is validated and retried with reinforced instructions until it
passes or the attempt budget is spent, in which case the best attempt is
returned as degraded.

Exit status is 0 when every task is accepted, 2 when any is degraded and
1 when any fails.`,
		Example: `  reviewgen review memo.md
  reviewgen review --stream -m llama3:8b prompts/*.md
  reviewgen review --json -o out/ prompts/*.md`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			if err := rf.apply(cmd, a); err != nil {
				return err
			}

			tasks := make([]review.Task, 0, len(args))
			for i, path := range args {
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				tasks = append(tasks, review.Task{
					Name:         filepath.Base(path),
					Prompt:       string(data),
					ResetContext: !rf.shareContext || i == 0,
				})
			}

			out := cmd.OutOrStdout()
			echo := rf.fragmentWriter(out)
			orch, cleanup, err := a.orchestrator(echo)
			if err != nil {
				return err
			}
			defer cleanup()

			var results []*review.Result
			for _, task := range tasks {
				if cmd.Context().Err() != nil {
					break
				}
				if a.cfg.Review.Stream && echo != nil {
					fmt.Fprintln(out, headerStyle("== "+task.Name+" =="))
				}
				r, _ := orch.Run(cmd.Context(), task)
				results = append(results, r)
				if err := rf.emit(out, a, r); err != nil {
					return err
				}
			}

			if rf.json {
				outputs := make([]review.TaskOutput, 0, len(results))
				for _, r := range results {
					outputs = append(outputs, review.NewTaskOutput(r))
				}
				if err := writeJSON(out, outputs); err != nil {
					return err
				}
			}
			summarize(cmd.ErrOrStderr(), results)

			if code := exitCode(results); code != ExitOK {
				return exitError(code)
			}
			return nil
		},
	}
	rf.register(cmd)
	return cmd
}
