// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/ollama"
)

func newPingCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that the Ollama server is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			wire := a.wire()

			start := time.Now()
			if err := wire.CheckRunning(cmd.Context()); err != nil {
				fmt.Fprintf(out, "%s %s\n", failStyle("unreachable"), wire.BaseURL())
				if ollama.IsNotRunning(err) {
					fmt.Fprintln(out, dimStyle("  start the server with: ollama serve"))
				}
				return err
			}
			fmt.Fprintf(out, "%s %s (%s)\n", okStyle("ok"), wire.BaseURL(), time.Since(start).Round(time.Millisecond))

			client := a.client()
			available := map[string]bool{}
			for _, m := range client.AvailableModels(cmd.Context()) {
				available[m] = true
			}
			for _, m := range client.Models("") {
				status := okStyle("installed")
				if !available[m] {
					status = warnStyle("missing")
				}
				fmt.Fprintf(out, "  %-24s %s\n", m, status)
			}
			return nil
		},
	}
}
