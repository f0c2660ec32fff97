package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"archon/internal/catalog"
)

type catalogFilterFlags struct {
	mode         string
	packageIDs   []string
	states       []string
	providerIDs  []string
	sessionOwner string
	session      string
	storages     []string
	tags         []string
	categories   []string
}

func (f *catalogFilterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.mode, "mode", "include", "Selection mode: include or exclude")
	cmd.Flags().StringSliceVar(&f.packageIDs, "id", nil, "Package id (repeatable)")
	cmd.Flags().StringSliceVar(&f.states, "state", nil, "Package state (repeatable)")
	cmd.Flags().StringSliceVar(&f.providerIDs, "provider", nil, "Provider id (repeatable)")
	cmd.Flags().StringVar(&f.sessionOwner, "session-owner", "", "Session owner")
	cmd.Flags().StringVar(&f.session, "session", "", "Session name")
	cmd.Flags().StringSliceVar(&f.storages, "storage", nil, "Storage backend (repeatable)")
	cmd.Flags().StringSliceVar(&f.tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringSliceVar(&f.categories, "category", nil, "Category (repeatable)")
}

func (f *catalogFilterFlags) build() (catalog.Filter, error) {
	filter := catalog.Filter{
		PackageIDs:   f.packageIDs,
		ProviderIDs:  f.providerIDs,
		SessionOwner: strings.TrimSpace(f.sessionOwner),
		Session:      strings.TrimSpace(f.session),
		Storages:     f.storages,
		Tags:         f.tags,
		Categories:   f.categories,
	}
	switch strings.ToLower(strings.TrimSpace(f.mode)) {
	case "include":
		filter.Mode = catalog.SelectionInclude
	case "exclude":
		filter.Mode = catalog.SelectionExclude
	default:
		return catalog.Filter{}, fmt.Errorf("unknown selection mode %q", f.mode)
	}
	for _, raw := range f.states {
		state, ok := catalog.ParseState(raw)
		if !ok {
			return catalog.Filter{}, fmt.Errorf("unknown package state %q", raw)
		}
		filter.States = append(filter.States, state)
	}
	return filter, nil
}

func newPackageCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "package",
		Short: "Inspect archival packages",
	}
	cmd.AddCommand(newPackageListCommand(ctx))
	cmd.AddCommand(newPackageShowCommand(ctx))
	return cmd
}

func newPackageListCommand(ctx *commandContext) *cobra.Command {
	filters := &catalogFilterFlags{}
	var limit int
	var after int64

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List packages matching the given filters",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			pkgs, err := svc.SearchPackages(cmd.Context(), filter, catalog.Page{After: after, Size: limit})
			if err != nil {
				return err
			}
			if len(pkgs) == 0 {
				cmd.Println("No matching packages.")
				return nil
			}

			rows := make([][]string, 0, len(pkgs))
			for _, pkg := range pkgs {
				rows = append(rows, []string{
					strconv.FormatInt(pkg.ID, 10),
					pkg.PackageID,
					string(pkg.State),
					pkg.SessionOwner,
					pkg.Session,
					strings.Join(pkg.Tags, ","),
					strconv.Itoa(len(pkg.Files)),
				})
			}
			cmd.Println(renderTable(
				[]string{"#", "PACKAGE", "STATE", "OWNER", "SESSION", "TAGS", "FILES"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
			))
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of packages to show")
	cmd.Flags().Int64Var(&after, "after", 0, "Only packages with internal id greater than this")
	return cmd
}

func newPackageShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <package-id>",
		Short: "Show one package in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			pkg, err := svc.GetPackage(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if pkg == nil {
				return fmt.Errorf("package %s not found", args[0])
			}

			cmd.Printf("Package:       %s\n", pkg.PackageID)
			cmd.Printf("Provider:      %s\n", pkg.ProviderID)
			cmd.Printf("Session:       %s / %s\n", pkg.SessionOwner, pkg.Session)
			cmd.Printf("State:         %s\n", pkg.State)
			cmd.Printf("Checksum:      %s\n", pkg.Checksum)
			cmd.Printf("Tags:          %s\n", strings.Join(pkg.Tags, ", "))
			cmd.Printf("Categories:    %s\n", strings.Join(pkg.Categories, ", "))
			cmd.Printf("Storages:      %s\n", strings.Join(pkg.Storages, ", "))
			cmd.Printf("Last update:   %s\n", pkg.LastUpdate.Format("2006-01-02 15:04:05"))
			if len(pkg.Files) > 0 {
				rows := make([][]string, 0, len(pkg.Files))
				for _, file := range pkg.Files {
					rows = append(rows, []string{file.Checksum, file.Storage, file.URI})
				}
				cmd.Println(renderTable(
					[]string{"CHECKSUM", "STORAGE", "URI"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
			}
			return nil
		},
	}
}
