// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newModelsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models installed on the Ollama server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			models, err := a.wire().ListModels(cmd.Context())
			if err != nil {
				return err
			}

			configured := map[string]string{a.cfg.Endpoint.DefaultModel: "default"}
			for _, m := range a.cfg.Endpoint.FallbackModels {
				if _, ok := configured[m]; !ok {
					configured[m] = "fallback"
				}
			}

			t := newTable("NAME", "SIZE", "MODIFIED", "ROLE")
			installed := map[string]bool{}
			for _, m := range models {
				installed[m.Name] = true
				t.add(m.Name, formatSize(m.Size), formatAge(m.ModifiedAt), configured[m.Name])
			}
			t.render(cmd.OutOrStdout())

			for _, name := range a.cfg.LLMConfig().FallbackModels {
				if !installed[name] {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s fallback model %s is not installed\n", warnStyle("warning:"), name)
				}
			}
			if !installed[a.cfg.Endpoint.DefaultModel] {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s default model %s is not installed\n", warnStyle("warning:"), a.cfg.Endpoint.DefaultModel)
			}
			return nil
		},
	}
}

func formatSize(bytes int64) string {
	const gb = 1 << 30
	const mb = 1 << 20
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.1f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.0f MB", float64(bytes)/mb)
	case bytes > 0:
		return fmt.Sprintf("%d B", bytes)
	default:
		return "-"
	}
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
