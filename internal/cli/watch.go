// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/watch"
)

func newWatchCmd(flags *globalFlags) *cobra.Command {
	var (
		outputDir  string
		existing   bool
		debounce   time.Duration
		extensions []string
	)

	cmd := &cobra.Command{
		Use:   "watch INBOX",
		Short: "Review prompt files as they appear in a directory",
		Long: `Watch INBOX for new or changed prompt files and run each one through the
review loop. Results are written to --output-dir (default INBOX/out) as
<name>.review.md. Runs until interrupted.`,
		Example: `  reviewgen watch ./inbox
  reviewgen watch --existing -o ./reviews ./inbox`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			inbox := args[0]
			if outputDir == "" {
				outputDir = filepath.Join(inbox, "out")
			}
			rf := &reviewFlags{outputDir: outputDir}
			if err := rf.apply(cmd, a); err != nil {
				return err
			}

			orch, cleanup, err := a.orchestrator(nil)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.ErrOrStderr()
			handle := func(ctx context.Context, path string) error {
				if strings.HasSuffix(path, ".review.md") {
					return nil
				}
				data, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				r, runErr := orch.Run(ctx, review.Task{
					Name:         filepath.Base(path),
					Prompt:       string(data),
					ResetContext: true,
				})
				if err := rf.emit(cmd.OutOrStdout(), a, r); err != nil {
					return err
				}
				summarize(out, []*review.Result{r})
				return runErr
			}

			w, err := watch.New(watch.Config{
				Dir:             inbox,
				Extensions:      extensions,
				Debounce:        debounce,
				ProcessExisting: existing,
			}, handle, watch.WithLogger(a.log))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(out, "%s %s -> %s\n", headerStyle("watching"), inbox, outputDir)
			if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "directory for results (default INBOX/out)")
	cmd.Flags().BoolVar(&existing, "existing", false, "also review files already in INBOX")
	cmd.Flags().DurationVar(&debounce, "debounce", watch.DefaultDebounce, "quiet period before a file is picked up")
	cmd.Flags().StringSliceVar(&extensions, "ext", watch.DefaultExtensions, "prompt file extensions")
	return cmd
}
