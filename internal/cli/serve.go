// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jeranaias/reviewgen/internal/review"
	"github.com/jeranaias/reviewgen/internal/server"
)

func newServeCmd(flags *globalFlags) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review loop over HTTP",
		Long: `Start the HTTP review API. Requests run one at a time through the same
retry and validation loop as "reviewgen review".

Set server.auth_token (or REVIEWGEN_SERVER_TOKEN) to require a bearer token.`,
		Example: `  reviewgen serve
  reviewgen serve --addr 0.0.0.0:8787
  curl -s localhost:8787/v1/review -d '{"name":"memo","prompt":"Review ..."}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd, flags)
			if err != nil {
				return err
			}
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			v, err := a.validator()
			if err != nil {
				return err
			}

			opts := []server.Option{server.WithLogger(a.log)}
			store, err := a.openHistory()
			if err != nil {
				return err
			}
			if store != nil {
				defer store.Close()
				opts = append(opts, server.WithHistory(store))
			}

			srv := server.New(a.client(), v, server.Config{
				Addr:               a.cfg.Server.Addr,
				AuthToken:          a.cfg.Server.AuthToken,
				RateLimitPerMinute: a.cfg.Server.RateLimitPerMinute,
				MaxBodyBytes:       int64(a.cfg.Server.MaxBodyBytes),
				Review: review.Config{
					MaxAttempts: a.cfg.Review.MaxAttempts,
					Stream:      a.cfg.Review.Stream,
				},
			}, opts...)

			ln, err := net.Listen("tcp", a.cfg.Server.Addr)
			if err != nil {
				return err
			}
			if a.cfg.Server.AuthToken == "" {
				if host, _, _ := net.SplitHostPort(a.cfg.Server.Addr); host != "127.0.0.1" && host != "localhost" && host != "::1" {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s serving on %s without an auth token\n", warnStyle("warning:"), a.cfg.Server.Addr)
				}
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%s http://%s\n", headerStyle("serving"), ln.Addr())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return srv.Serve(ctx, ln)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}
