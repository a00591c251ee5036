package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xraph/docket"
	"github.com/xraph/docket/api"
	"github.com/xraph/docket/engine"
	"github.com/xraph/docket/id"
	"github.com/xraph/docket/job"
)

func newEnqueueCmd(c *cli) *cobra.Command {
	var (
		req      engine.EnqueueRequest
		kind     string
		sections []string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Enqueue a document job",
		Example: `  docket enqueue --tenant org_42 --subject claim_981 --kind SUPPLEMENT \
    --sections summary,line_items --requested-by user_7`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			req.Kind = job.Kind(kind)
			req.Config.Sections = sections
			jobID, err := a.engine.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.EnqueueResponse{JobID: jobID.String()})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.TenantID, "tenant", "", "tenant ID")
	f.StringVar(&req.SubjectID, "subject", "", "subject record ID, e.g. a claim")
	f.StringVar(&kind, "kind", "", "document kind, e.g. SUPPLEMENT")
	f.StringSliceVar(&sections, "sections", nil, "comma-separated section names")
	f.StringVar(&req.Config.Title, "title", "", "document title")
	f.StringVar(&req.NotifyTarget, "notify", "", "completion notification target")
	f.StringVar(&req.RequestedBy, "requested-by", "", "requesting user ID")
	f.IntVar(&req.MaxAttempts, "max-attempts", 0, "attempt quota (0 uses DOCKET_MAX_ATTEMPTS)")
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status JOB_ID",
		Short: "Show a job's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job ID: %w", err)
			}
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := a.engine.Status(cmd.Context(), jobID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), api.NewStatusResponse(v))
		},
	}
}

func newCancelCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a queued job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID, err := id.ParseJobID(args[0])
			if err != nil {
				return fmt.Errorf("invalid job ID: %w", err)
			}
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			j, err := a.engine.Cancel(cmd.Context(), jobID)
			switch {
			case err == nil:
				return printJSON(cmd.OutOrStdout(), api.CancelResponse{Cancelled: true, Status: j.Status})
			case errors.Is(err, docket.ErrInvalidTransition) && j != nil:
				if perr := printJSON(cmd.OutOrStdout(), api.CancelResponse{Status: j.Status}); perr != nil {
					return perr
				}
				return fmt.Errorf("job %s is %s and can no longer be cancelled", jobID, j.Status)
			default:
				return err
			}
		},
	}
}

func newListCmd(c *cli) *cobra.Command {
	var (
		opts   job.ListOpts
		status string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's recent jobs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if status != "" {
				st, ok := job.ParseStatus(status)
				if !ok {
					return fmt.Errorf("unknown status %q", status)
				}
				opts.Status = st
			}
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.engine.ListRecent(cmd.Context(), opts)
			if err != nil {
				return err
			}
			out := make([]api.JobSummary, 0, len(rows))
			for _, r := range rows {
				out = append(out, api.NewJobSummary(r))
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.TenantID, "tenant", "", "tenant ID (required)")
	f.StringVar(&opts.SubjectID, "subject", "", "filter by subject ID")
	f.StringVar(&status, "status", "", "filter by status")
	f.IntVar(&opts.Limit, "limit", job.DefaultListLimit, "maximum rows")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func newStatsCmd(c *cli) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), c.cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer a.Close()

			counts, err := a.engine.Counts(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			var total int64
			for _, n := range counts {
				total += n
			}
			return printJSON(cmd.OutOrStdout(), api.StatsResponse{TenantID: tenantID, Counts: counts, Total: total})
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID (empty counts every tenant)")
	return cmd
}
