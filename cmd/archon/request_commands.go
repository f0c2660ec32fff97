package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archon/internal/request"
)

type requestFilterFlags struct {
	states    []string
	kinds     []string
	steps     []string
	packageID string
}

func (f *requestFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVar(&f.states, "state", nil, "Filter by request state (repeatable)")
	cmd.Flags().StringSliceVar(&f.kinds, "kind", nil, "Filter by request kind (repeatable)")
	cmd.Flags().StringSliceVar(&f.steps, "step", nil, "Filter by request step (repeatable)")
	cmd.Flags().StringVar(&f.packageID, "package", "", "Filter by target package id")
}

func (f *requestFilterFlags) build() (request.Filter, error) {
	filter := request.Filter{TargetPackageID: strings.TrimSpace(f.packageID)}
	for _, raw := range f.states {
		state, ok := request.ParseState(raw)
		if !ok {
			return request.Filter{}, fmt.Errorf("unknown request state %q", raw)
		}
		filter.States = append(filter.States, state)
	}
	for _, raw := range f.kinds {
		kind, ok := request.ParseKind(raw)
		if !ok {
			return request.Filter{}, fmt.Errorf("unknown request kind %q", raw)
		}
		filter.Kinds = append(filter.Kinds, kind)
	}
	for _, raw := range f.steps {
		switch step := request.Step(strings.ToLower(strings.TrimSpace(raw))); step {
		case request.StepLocal, request.StepNotifyPending, request.StepNotifyError:
			filter.Steps = append(filter.Steps, step)
		default:
			return request.Filter{}, fmt.Errorf("unknown request step %q", raw)
		}
	}
	return filter, nil
}

func newRequestCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Inspect and manage lifecycle requests",
	}
	cmd.AddCommand(newRequestListCommand(ctx))
	cmd.AddCommand(newRequestRetryCommand(ctx))
	cmd.AddCommand(newRequestDeleteCommand(ctx))
	cmd.AddCommand(newRequestStatsCommand(ctx))
	return cmd
}

func newRequestListCommand(ctx *commandContext) *cobra.Command {
	filters := &requestFilterFlags{}
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List requests matching the given filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			reqs, err := svc.ListRequests(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}
			if len(reqs) == 0 {
				cmd.Println("No matching requests.")
				return nil
			}

			rows := make([][]string, 0, len(reqs))
			for _, req := range reqs {
				errCount := strconv.Itoa(len(req.Errors))
				rows = append(rows, []string{
					req.ID,
					string(req.Kind),
					string(req.State),
					string(req.Step),
					req.TargetPackageID,
					errCount,
					req.CreatedAt.Format("2006-01-02 15:04:05"),
				})
			}
			cmd.Println(renderTable(
				[]string{"ID", "KIND", "STATE", "STEP", "PACKAGE", "ERRORS", "CREATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of requests to show")
	return cmd
}

func newRequestRetryCommand(ctx *commandContext) *cobra.Command {
	filters := &requestFilterFlags{}

	cmd := &cobra.Command{
		Use:   "retry",
		Short: "Re-queue failed and aborted requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			count, err := svc.RetryRequests(cmd.Context(), filter)
			if err != nil {
				return err
			}
			cmd.Printf("Re-queued %d request(s).\n", count)
			return nil
		},
	}
	filters.register(cmd)
	return cmd
}

func newRequestDeleteCommand(ctx *commandContext) *cobra.Command {
	filters := &requestFilterFlags{}
	var confirmed bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete requests matching the given filters (running requests are never removed)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to delete without --yes")
			}
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			count, err := svc.DeleteRequests(cmd.Context(), filter)
			if err != nil {
				return err
			}
			cmd.Printf("Deleted %d request(s).\n", count)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm the deletion")
	return cmd
}

func newRequestStatsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-state request counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			stats, err := svc.RequestStats(cmd.Context())
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(stats))
			for _, state := range request.AllStates() {
				rows = append(rows, []string{string(state), strconv.Itoa(stats[state])})
			}
			cmd.Println(renderTable(
				[]string{"STATE", "COUNT"},
				rows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
