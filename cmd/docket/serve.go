package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/docket/api"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr    string
		workers bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the worker pool",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr == "" {
				addr = c.cfg.HTTPAddr
			}

			a, err := newApp(ctx, c.cfg, c.logger, workers)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := &http.Server{
				Addr:              addr,
				Handler:           api.New(a.engine).Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if workers {
				if err := a.engine.Start(ctx); err != nil {
					return err
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				c.logger.Info("http server listening", slog.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				c.logger.Info("shutting down")

				shutdownCtx, cancel := context.WithTimeout(context.Background(), c.cfg.Engine.ShutdownTimeout)
				defer cancel()
				return errors.Join(
					srv.Shutdown(shutdownCtx),
					a.engine.Stop(shutdownCtx),
				)
			})
			return g.Wait()
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address; overrides DOCKET_HTTP_ADDR")
	cmd.Flags().BoolVar(&workers, "workers", true, "run the worker pool alongside the API")
	return cmd
}
