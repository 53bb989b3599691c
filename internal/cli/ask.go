// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/llm"
)

func newAskCmd(flags *globalFlags) *cobra.Command {
	var (
		model      string
		stream     bool
		asJSON     bool
		schemaPath string
	)

	cmd := &cobra.Command{
		Use:   "ask PROMPT",
		Short: "Send one prompt without validation",
		Long: `Send a single prompt through the fallback client. Use "-" to read the
prompt from stdin. With --json the reply is parsed as a JSON object (and
checked against --schema when given).`,
		Example: `  reviewgen ask "Summarize the attached findings"
  cat prompt.txt | reviewgen ask --stream -
  reviewgen ask --json --schema finding.schema.json "List the findings"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			client := a.client()
			out := cmd.OutOrStdout()
			var qopts []llm.QueryOption
			if model != "" {
				qopts = append(qopts, llm.WithModel(model))
			}

			switch {
			case asJSON || schemaPath != "":
				sopts := []llm.StructuredOption{llm.WithQuery(qopts...)}
				if schemaPath != "" {
					doc, err := os.ReadFile(schemaPath)
					if err != nil {
						return err
					}
					schema, err := llm.CompileSchema(doc)
					if err != nil {
						return err
					}
					sopts = append(sopts, llm.WithSchema(schema))
				}
				v, err := client.QueryStructured(cmd.Context(), prompt, sopts...)
				if err != nil {
					return err
				}
				return writeJSON(out, v)

			case stream:
				s, err := client.StreamQuery(cmd.Context(), prompt, qopts...)
				if err != nil {
					return err
				}
				defer s.Close()
				for {
					fragment, err := s.Next()
					if errors.Is(err, io.EOF) {
						break
					}
					if err != nil {
						fmt.Fprintln(out)
						return err
					}
					io.WriteString(out, fragment)
				}
				fmt.Fprintln(out)
				usage := s.Usage()
				a.log.WithFields(logrus.Fields{
					"model":             s.Model(),
					"completion_tokens": usage.CompletionTokens,
				}).Debug("Stream complete")
				return nil

			default:
				resp, err := client.Query(cmd.Context(), prompt, qopts...)
				if err != nil {
					return err
				}
				fmt.Fprintln(out, strings.TrimRight(resp.Text, "\n"))
				if len(resp.Attempts) > 1 {
					a.log.WithField("model", resp.Model).Warnf("Answered by fallback after %d attempts", len(resp.Attempts))
				}
				return nil
			}
		},
	}

	cmd.Flags().StringVarP(&model, "model", "m", "", "model to try first")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the reply")
	cmd.Flags().BoolVar(&asJSON, "json", false, "request and print a JSON object")
	cmd.Flags().StringVar(&schemaPath, "schema", "", "JSON Schema file the reply must satisfy (implies --json)")
	cmd.MarkFlagsMutuallyExclusive("stream", "json")
	return cmd
}

// readPrompt joins args, or reads stdin when the only arg is "-".
func readPrompt(stdin io.Reader, args []string) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		args = []string{string(data)}
	}
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		return "", errors.New("empty prompt")
	}
	return prompt, nil
}
