// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/benchmark"
	"github.com/jeranaias/reviewgen/internal/config"
)

func newBenchCmd(flags *globalFlags) *cobra.Command {
	var (
		casePaths []string
		save      bool
		saveDir   string
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "bench [MODEL...]",
		Short: "Compare models on review prompts",
		Long: `Stream each review case once per model, with fallback disabled, and rank
the models by validation pass rate, then tokens per second, then time to
first token. Without MODEL arguments the configured default and fallback
models are compared.`,
		Example: `  reviewgen bench
  reviewgen bench qwen2.5:14b llama3:8b --case prompts/memo.md --save`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			v, err := a.validator()
			if err != nil {
				return err
			}

			models := args
			if len(models) == 0 {
				models = a.client().Models("")
			}
			cases := benchmark.DefaultCases()
			if len(casePaths) > 0 {
				if cases, err = benchmark.LoadCases(casePaths); err != nil {
					return err
				}
			}

			runner := benchmark.NewRunner(a.wire(), a.cfg.LLMConfig(), v, a.log)
			cmp, runErr := runner.RunComparison(cmd.Context(), models, cases)

			out := cmd.OutOrStdout()
			if asJSON {
				if err := writeJSON(out, cmp); err != nil {
					return err
				}
			} else {
				renderComparison(out, cmp)
			}

			if save && cmp != nil {
				dir := saveDir
				if dir == "" {
					base, err := config.ConfigDir()
					if err != nil {
						return err
					}
					dir = filepath.Join(base, "benchmarks")
				}
				store, err := benchmark.NewStorage(dir)
				if err != nil {
					return err
				}
				path, err := store.Save(cmp)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "saved %s\n", path)
			}
			return runErr
		},
	}

	cmd.Flags().StringSliceVar(&casePaths, "case", nil, "prompt file to use as a case (repeatable)")
	cmd.Flags().BoolVar(&save, "save", false, "save the comparison as JSON")
	cmd.Flags().StringVar(&saveDir, "save-dir", "", "directory for saved results (default ~/.reviewgen/benchmarks)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the comparison as JSON")
	return cmd
}

func renderComparison(w io.Writer, cmp *benchmark.Comparison) {
	t := newTable("MODEL", "PASSED", "FAILED", "TTFT", "SPEED")
	for _, r := range cmp.Ranked() {
		t.add(r.Model,
			fmt.Sprintf("%d/%d", r.Passed, len(r.Cases)),
			fmt.Sprint(r.Failed),
			benchmark.FormatDuration(r.AvgTTFT),
			benchmark.FormatTokensPerSec(r.AvgTokensPerSec))
	}
	t.render(w)

	if order := cmp.FallbackOrder(); len(order) > 0 {
		fmt.Fprintf(w, "\n%s default_model = %q", dimStyle("suggested:"), order[0])
		if len(order) > 1 {
			fmt.Fprintf(w, ", fallback_models = [%s]", quoteList(order[1:]))
		}
		fmt.Fprintln(w)
	}
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, s := range items {
		quoted[i] = fmt.Sprintf("%q", s)
	}
	return strings.Join(quoted, ", ")
}
