// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/diff"
	"github.com/jeranaias/reviewgen/internal/export"
	"github.com/jeranaias/reviewgen/internal/history"
	"github.com/jeranaias/reviewgen/internal/util"
)

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "history",
		Aliases: []string{"hist"},
		Short:   "Inspect the attempt history database",
	}

	// withStore opens the store for a subcommand, even when recording is disabled.
	withStore := func(run func(cmd *cobra.Command, store *history.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			a.cfg.History.Enabled = true
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			defer store.Close()
			return run(cmd, store, args)
		}
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent tasks",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store *history.Store, _ []string) error {
			tasks, err := store.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), dimStyle("no tasks recorded"))
				return nil
			}
			t := newTable("ID", "TASK", "STATE", "ATTEMPTS", "TOKENS", "UPDATED")
			t.stateCol = 2
			for _, task := range tasks {
				t.add(task.ID[:min(8, len(task.ID))], task.Name, string(task.State),
					fmt.Sprint(task.Attempts), fmt.Sprint(task.TotalTokens), task.UpdatedAt.Format("2006-01-02 15:04"))
			}
			t.render(cmd.OutOrStdout())
			return nil
		}),
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "maximum tasks to show")

	show := &cobra.Command{
		Use:   "show ID",
		Short: "Show a task with its attempts and issues",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store *history.Store, args []string) error {
			task, err := resolveTask(cmd, store, args[0])
			if err != nil {
				return err
			}
			attempts, err := store.Attempts(cmd.Context(), task.ID)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle("Task"), task.Name)
			fmt.Fprintf(out, "  ID:       %s\n", task.ID)
			fmt.Fprintf(out, "  State:    %s\n", stateLabel(task.State))
			fmt.Fprintf(out, "  Attempts: %d (returned #%d)\n", task.Attempts, task.BestAttempt)
			fmt.Fprintf(out, "  Tokens:   %d\n", task.TotalTokens)
			if task.Error != "" {
				fmt.Fprintf(out, "  Error:    %s\n", failStyle(task.Error))
			}
			for _, a := range attempts {
				verdict := okStyle("passed")
				if !a.Passed {
					verdict = warnStyle("failed")
				}
				fmt.Fprintf(out, "\n%s #%d %s  %s, %d tokens, %.1fs\n",
					headerStyle("Attempt"), a.Number, verdict, a.Model, a.Tokens, a.ElapsedSeconds)
				for _, i := range a.Issues {
					fmt.Fprintf(out, "  %s %s\n", dimStyle("["+i.Category+"/"+i.Severity+"]"), i.Message)
				}
				fmt.Fprintf(out, "  %s\n", dimStyle(util.Snippet(a.Text, 120)))
			}
			return nil
		}),
	}

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate counts",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store *history.Store, _ []string) error {
			st, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Tasks:    %d (%s accepted, %s degraded, %s failed)\n", st.Tasks,
				okStyle(st.Accepted), warnStyle(st.Degraded), failStyle(st.Failed))
			fmt.Fprintf(out, "Attempts: %d\n", st.Attempts)
			fmt.Fprintf(out, "Tokens:   %d\n", st.Tokens)
			return nil
		}),
	}

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete tasks older than a duration",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, store *history.Store, _ []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d task(s)\n", n)
			return nil
		}),
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "age cutoff")

	var (
		format      string
		exportDir   string
		attemptText bool
	)
	exportCmd := &cobra.Command{
		Use:   "export ID",
		Short: "Export a task as markdown, json or html",
		Long: `Export a recorded task with its attempt log.

Without --output the export is written to stdout.`,
		Args: cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, store *history.Store, args []string) error {
			task, err := resolveTask(cmd, store, args[0])
			if err != nil {
				return err
			}
			attempts, err := store.Attempts(cmd.Context(), task.ID)
			if err != nil {
				return err
			}
			opts := export.DefaultOptions()
			opts.IncludeAttemptText = attemptText
			exp, err := export.ForFormat(format, opts)
			if err != nil {
				return err
			}
			report := &export.Report{Task: *task, Attempts: attempts}
			if exportDir == "" {
				data, err := exp.Export(report)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			path, err := export.ExportToFile(report, exp, exportDir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", okStyle("exported"), path)
			return nil
		}),
	}
	exportCmd.Flags().StringVarP(&format, "format", "f", "markdown", "export format (markdown, json, html)")
	exportCmd.Flags().StringVarP(&exportDir, "output", "o", "", "directory to write the export to")
	exportCmd.Flags().BoolVar(&attemptText, "attempt-text", false, "include each attempt's full text")

	diffCmd := &cobra.Command{
		Use:   "diff ID [FROM [TO]]",
		Short: "Diff the text of two attempts of a task",
		Long: `Show how a retry changed the generated text. FROM defaults to attempt 1
and TO to the returned attempt (or the last one).`,
		Args: cobra.RangeArgs(1, 3),
		RunE: withStore(func(cmd *cobra.Command, store *history.Store, args []string) error {
			task, err := resolveTask(cmd, store, args[0])
			if err != nil {
				return err
			}
			attempts, err := store.Attempts(cmd.Context(), task.ID)
			if err != nil {
				return err
			}
			if len(attempts) < 2 {
				return fmt.Errorf("task %s has %d attempt(s); nothing to compare", task.ID[:min(8, len(task.ID))], len(attempts))
			}

			from, to := 1, task.BestAttempt
			if to == 0 || to == from {
				to = attempts[len(attempts)-1].Number
			}
			if len(args) > 1 {
				if from, err = strconv.Atoi(args[1]); err != nil {
					return fmt.Errorf("invalid attempt number %q", args[1])
				}
			}
			if len(args) > 2 {
				if to, err = strconv.Atoi(args[2]); err != nil {
					return fmt.Errorf("invalid attempt number %q", args[2])
				}
			}
			a, err := findAttempt(attempts, from)
			if err != nil {
				return err
			}
			b, err := findAttempt(attempts, to)
			if err != nil {
				return err
			}

			r := diff.Compute(fmt.Sprintf("attempt %d", a.Number), fmt.Sprintf("attempt %d", b.Number), a.Text, b.Text)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", headerStyle(task.Name), dimStyle(r.Summary()))
			for _, line := range strings.Split(strings.TrimSuffix(r.Unified(), "\n"), "\n") {
				switch {
				case strings.HasPrefix(line, "@@"):
					line = headerStyle(line)
				case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
					line = okStyle(line)
				case strings.HasPrefix(line, "-") && !strings.HasPrefix(line, "---"):
					line = failStyle(line)
				}
				if line != "" {
					fmt.Fprintln(out, line)
				}
			}
			return nil
		}),
	}

	cmd.AddCommand(list, show, stats, prune, exportCmd, diffCmd)
	return cmd
}

// resolveTask accepts a full ID or a unique prefix of a recent one.
func findAttempt(attempts []history.AttemptRecord, n int) (*history.AttemptRecord, error) {
	for i := range attempts {
		if attempts[i].Number == n {
			return &attempts[i], nil
		}
	}
	return nil, fmt.Errorf("no attempt %d (task has %d)", n, len(attempts))
}

func resolveTask(cmd *cobra.Command, store *history.Store, id string) (*history.TaskRecord, error) {
	task, err := store.Task(cmd.Context(), id)
	if err == nil {
		return task, nil
	}
	if !errors.Is(err, history.ErrNotFound) {
		return nil, err
	}

	recent, err := store.Recent(cmd.Context(), 500)
	if err != nil {
		return nil, err
	}
	var match *history.TaskRecord
	for i := range recent {
		if len(recent[i].ID) >= len(id) && recent[i].ID[:len(id)] == id {
			if match != nil {
				return nil, fmt.Errorf("ambiguous task id prefix %q", id)
			}
			match = &recent[i]
		}
	}
	if match == nil {
		return nil, fmt.Errorf("task %q: %w", id, history.ErrNotFound)
	}
	return match, nil
}
