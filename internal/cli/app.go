// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/config"
	"github.com/jeranaias/reviewgen/internal/history"
	"github.com/jeranaias/reviewgen/internal/llm"
	"github.com/jeranaias/reviewgen/internal/logging"
	"github.com/jeranaias/reviewgen/internal/ollama"
	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/validate"
)

// app holds what a command needs once config is resolved.
type app struct {
	cfg *config.Config
	log *logrus.Logger
}

func loadConfig(flags *globalFlags) (*config.Config, error) {
	if flags.configPath != "" {
		return config.LoadFromPath(flags.configPath)
	}
	return config.Load()
}

func newApp(cmd *cobra.Command, flags *globalFlags) (*app, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	log, err := logging.New(logging.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) wire() *ollama.Client {
	return ollama.NewClientWithConfig(a.cfg.OllamaConfig())
}

func (a *app) client() *llm.Client {
	return llm.New(a.wire(), a.cfg.LLMConfig(), llm.WithLogger(a.log))
}

func (a *app) validator() (*validate.Validator, error) {
	if a.cfg.Review.ProfilePath == "" {
		return validate.New(nil), nil
	}
	p, err := validate.LoadProfile(a.cfg.Review.ProfilePath)
	if err != nil {
		return nil, err
	}
	return validate.New(p), nil
}

// openHistory returns nil when history is disabled.
func (a *app) openHistory() (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	path, err := a.cfg.HistoryPath()
	if err != nil {
		return nil, err
	}
	store, err := history.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	return store, nil
}

// orchestrator wires client, validator and recorder. The returned cleanup
// closes the history store.
func (a *app) orchestrator(onFragment func(review.Task, int, string)) (*review.Orchestrator, func(), error) {
	v, err := a.validator()
	if err != nil {
		return nil, nil, err
	}
	opts := []review.Option{review.WithLogger(a.log)}

	cleanup := func() {}
	store, err := a.openHistory()
	if err != nil {
		return nil, nil, err
	}
	if store != nil {
		opts = append(opts, review.WithRecorder(store))
		cleanup = func() {
			if err := store.Close(); err != nil {
				a.log.WithError(err).Warn("Closing history failed")
			}
		}
	}

	orch := review.New(a.client(), v, review.Config{
		MaxAttempts: a.cfg.Review.MaxAttempts,
		Stream:      a.cfg.Review.Stream,
		OnFragment:  onFragment,
	}, opts...)
	return orch, cleanup, nil
}
