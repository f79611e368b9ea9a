package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func newServeCommand(opts *RootOptions) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background router and expose it over the Connect bridge",
		Long: `Run the background router on an in-process bus and serve it over HTTP.

Remote contexts attach with the Connect Subscribe stream and send with
Deliver. /healthz reports liveness and /debug/diagnostics dumps the client
registry, bus counters, and message diagnostics.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.RPC.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			h, err := newHub(ctx, cfg, opts.log())
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              cfg.RPC.Addr,
				Handler:           h.handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			h.group.Go(func() error {
				opts.log().InfoContext(ctx, "switchboard listening", slog.String("addr", cfg.RPC.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			h.group.Go(func() error {
				<-h.ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			return h.wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides rpc.addr)")
	return cmd
}
