// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/validate"
)

// schemaTargets maps a name to a value of the reflected type.
var schemaTargets = map[string]any{
	"review":  review.TaskOutput{},
	"profile": validate.Profile{},
}

func newSchemaCmd() *cobra.Command {
	names := make([]string, 0, len(schemaTargets))
	for name := range schemaTargets {
		names = append(names, name)
	}
	sort.Strings(names)

	return &cobra.Command{
		Use:       "schema {" + strings.Join(names, "|") + "}",
		Short:     "Print the JSON Schema of review output or validation profiles",
		Args:      cobra.ExactArgs(1),
		ValidArgs: names,
		RunE: func(cmd *cobra.Command, args []string) error {
			target, ok := schemaTargets[args[0]]
			if !ok {
				return fmt.Errorf("unknown schema %q (want one of %s)", args[0], strings.Join(names, ", "))
			}
			schema, err := llm.SchemaFor(target)
			if err != nil {
				return err
			}
			var buf bytes.Buffer
			if err := json.Indent(&buf, schema.JSON(), "", "  "); err != nil {
				return err
			}
			buf.WriteByte('\n')
			_, err = cmd.OutOrStdout().Write(buf.Bytes())
			return err
		},
	}
}
