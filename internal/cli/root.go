// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Exit codes.
const (
	ExitOK       = 0 // every task accepted
	ExitError    = 1 // bad arguments, config or client failure
	ExitDegraded = 2 // at least one task returned a degraded result
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
	noColor    bool
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	root := &cobra.Command{
		Use:   "reviewgen",
		Short: "Quality-gated document review generation on a local LLM",
		Long: `reviewgen sends finished review prompts to a local Ollama server,
validates every response against a review profile (required sections,
off-topic replies, repetition) and retries with reinforced instructions
until the output passes or the attempt budget runs out.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if flags.noColor {
				color.NoColor = true
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.configPath, "config", "", "config file (default ~/.reviewgen/config.toml)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&flags.noColor, "no-color", false, "disable colored output")

	root.AddCommand(
		newReviewCmd(flags),
		newAskCmd(flags),
		newWatchCmd(flags),
		newServeCmd(flags),
		newModelsCmd(flags),
		newBenchCmd(flags),
		newPingCmd(flags),
		newHistoryCmd(flags),
		newConfigCmd(flags),
		newSchemaCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var code exitError
		if errors.As(err, &code) {
			return int(code)
		}
		fmt.Fprintf(stderr, "%s %v\n", failStyle("Error:"), err)
		return ExitError
	}
	return ExitOK
}

// exitError carries a non-zero exit code for an otherwise successful run.
type exitError int

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", int(e))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "reviewgen %s (commit %s, built %s)\n", Version, GitCommit, BuildDate)
		},
	}
}

// Main is the entry point used by the reviewgen binary.
func Main() {
	os.Exit(Execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}
