package main

import (
	"strconv"

	"github.com/spf13/cobra"

	"archon/internal/catalog"
	"archon/internal/request"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show request and catalog totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}

			requestStats, err := svc.RequestStats(cmd.Context())
			if err != nil {
				return err
			}
			catalogStats, err := svc.CatalogStats(cmd.Context())
			if err != nil {
				return err
			}

			requestRows := make([][]string, 0, len(requestStats))
			for _, state := range request.AllStates() {
				requestRows = append(requestRows, []string{string(state), strconv.Itoa(requestStats[state])})
			}
			cmd.Println("Requests")
			cmd.Println(renderTable(
				[]string{"STATE", "COUNT"},
				requestRows,
				[]columnAlignment{alignLeft, alignRight},
			))

			catalogRows := make([][]string, 0, len(catalogStats))
			for _, state := range catalog.AllStates() {
				catalogRows = append(catalogRows, []string{string(state), strconv.Itoa(catalogStats[state])})
			}
			cmd.Println("Packages")
			cmd.Println(renderTable(
				[]string{"STATE", "COUNT"},
				catalogRows,
				[]columnAlignment{alignLeft, alignRight},
			))
			return nil
		},
	}
}
