package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

func newWorkCmd(c *cli) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run the worker pool without the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer a.Close()

			if once {
				processed, err := a.engine.RunOnce(ctx)
				if err != nil {
					return err
				}
				if processed {
					fmt.Fprintln(cmd.OutOrStdout(), "processed 1 job")
				} else {
					fmt.Fprintln(cmd.OutOrStdout(), "no eligible job")
				}
				return a.engine.Stop(context.WithoutCancel(ctx))
			}

			if err := a.engine.Start(ctx); err != nil {
				return err
			}
			<-ctx.Done()
			return a.engine.Stop(context.WithoutCancel(ctx))
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "process at most one job and exit")
	return cmd
}
