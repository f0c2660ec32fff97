package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"archon/internal/request"
)

func newUpdateBulkCommand(ctx *commandContext) *cobra.Command {
	filters := &catalogFilterFlags{}
	var (
		addTags          []string
		removeTags       []string
		addCategories    []string
		removeCategories []string
		removeStorages   []string
	)

	cmd := &cobra.Command{
		Use:   "update-bulk",
		Short: "Register a bulk property update over matching packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			id, err := svc.RegisterUpdatesCreator(cmd.Context(), request.UpdateCreatorPayload{
				Filter:           filter,
				AddTags:          addTags,
				RemoveTags:       removeTags,
				AddCategories:    addCategories,
				RemoveCategories: removeCategories,
				RemoveStorages:   removeStorages,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Bulk update registered as %s.\n", id)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringSliceVar(&addTags, "add-tag", nil, "Tag to add (repeatable)")
	cmd.Flags().StringSliceVar(&removeTags, "remove-tag", nil, "Tag to remove (repeatable)")
	cmd.Flags().StringSliceVar(&addCategories, "add-category", nil, "Category to add (repeatable)")
	cmd.Flags().StringSliceVar(&removeCategories, "remove-category", nil, "Category to remove (repeatable)")
	cmd.Flags().StringSliceVar(&removeStorages, "remove-storage", nil, "Storage backend to drop (repeatable)")
	return cmd
}

func newDeleteBulkCommand(ctx *commandContext) *cobra.Command {
	filters := &catalogFilterFlags{}
	var (
		mode        string
		removeFiles bool
		confirmed   bool
	)

	cmd := &cobra.Command{
		Use:   "delete-bulk",
		Short: "Register a bulk deletion over matching packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("refusing to register a bulk deletion without --yes")
			}
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			var deletionMode request.DeletionMode
			switch strings.ToLower(strings.TrimSpace(mode)) {
			case "logical":
				deletionMode = request.DeletionLogical
			case "physical":
				deletionMode = request.DeletionPhysical
			default:
				return fmt.Errorf("unknown deletion mode %q", mode)
			}
			id, err := svc.RegisterDeletionCreator(cmd.Context(), request.DeletionCreatorPayload{
				Filter:      filter,
				Mode:        deletionMode,
				RemoveFiles: removeFiles,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Bulk deletion registered as %s.\n", id)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringVar(&mode, "mode", "logical", "Deletion mode: logical or physical")
	cmd.Flags().BoolVar(&removeFiles, "remove-files", false, "Also order deletion of every stored file copy")
	cmd.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm the bulk deletion")
	return cmd
}

func newDisseminateBulkCommand(ctx *commandContext) *cobra.Command {
	filters := &catalogFilterFlags{}
	var recipients []string

	cmd := &cobra.Command{
		Use:   "disseminate-bulk",
		Short: "Register a bulk dissemination of matching packages",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := ctx.ensureService()
			if err != nil {
				return err
			}
			filter, err := filters.build()
			if err != nil {
				return err
			}
			id, err := svc.RegisterDisseminationCreator(cmd.Context(), request.DisseminationCreatorPayload{
				Filter:     filter,
				Recipients: recipients,
			})
			if err != nil {
				return err
			}
			cmd.Printf("Bulk dissemination registered as %s.\n", id)
			return nil
		},
	}
	filters.register(cmd)
	cmd.Flags().StringSliceVar(&recipients, "recipient", nil, "Recipient to announce to (repeatable)")
	return cmd
}
