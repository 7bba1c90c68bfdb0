package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func buildVfsCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "vfs",
		Short: "Inspect and manage the virtual file system (folders, notes, resources)",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(buildVfsFolderCmd(&configPath))
	cmd.AddCommand(buildVfsNoteCmd(&configPath))
	cmd.AddCommand(buildVfsResourceCmd(&configPath))
	return cmd
}

func buildVfsFolderCmd(configPath *string) *cobra.Command {
	folderCmd := &cobra.Command{Use: "folder", Short: "Manage folders"}

	var name, parentID, subjectHint string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			folder, err := app.VFS.Folders.Create(cmd.Context(), name, parentID, subjectHint, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd, folder)
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "Folder name")
	createCmd.Flags().StringVar(&parentID, "parent", "", "Parent folder id (empty for root)")
	createCmd.Flags().StringVar(&subjectHint, "subject", "", "Subject hint")
	_ = createCmd.MarkFlagRequired("name")

	var moveID, newParentID string
	moveCmd := &cobra.Command{
		Use:   "move",
		Short: "Move a folder under a new parent",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			return app.VFS.Folders.Move(cmd.Context(), moveID, newParentID)
		},
	}
	moveCmd.Flags().StringVar(&moveID, "id", "", "Folder id")
	moveCmd.Flags().StringVar(&newParentID, "parent", "", "New parent folder id")
	_ = moveCmd.MarkFlagRequired("id")

	var deleteID string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			return app.VFS.Folders.SoftDelete(cmd.Context(), deleteID)
		},
	}
	deleteCmd.Flags().StringVar(&deleteID, "id", "", "Folder id")
	_ = deleteCmd.MarkFlagRequired("id")

	folderCmd.AddCommand(createCmd, moveCmd, deleteCmd)
	return folderCmd
}

func buildVfsNoteCmd(configPath *string) *cobra.Command {
	noteCmd := &cobra.Command{Use: "note", Short: "Manage notes"}

	var title, content, folderID string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a note",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			note, err := app.VFS.Notes.Create(cmd.Context(), title, content, folderID)
			if err != nil {
				return err
			}
			return printJSON(cmd, note)
		},
	}
	createCmd.Flags().StringVar(&title, "title", "", "Note title")
	createCmd.Flags().StringVar(&content, "content", "", "Note content")
	createCmd.Flags().StringVar(&folderID, "folder", "", "Folder id")
	_ = createCmd.MarkFlagRequired("title")

	var listFolderID string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List notes in a folder",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			notes, err := app.VFS.Notes.ListByFolder(cmd.Context(), listFolderID)
			if err != nil {
				return err
			}
			return printJSON(cmd, notes)
		},
	}
	listCmd.Flags().StringVar(&listFolderID, "folder", "", "Folder id")

	var deleteID string
	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "Soft-delete a note",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			return app.VFS.Notes.Delete(cmd.Context(), deleteID)
		},
	}
	deleteCmd.Flags().StringVar(&deleteID, "id", "", "Note id")
	_ = deleteCmd.MarkFlagRequired("id")

	noteCmd.AddCommand(createCmd, listCmd, deleteCmd)
	return noteCmd
}

func buildVfsResourceCmd(configPath *string) *cobra.Command {
	resourceCmd := &cobra.Command{Use: "resource", Short: "Inspect resources"}

	var id string
	getCmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a resource by id",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			res, err := app.VFS.Resources.GetResource(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
	getCmd.Flags().StringVar(&id, "id", "", "Resource id")
	_ = getCmd.MarkFlagRequired("id")

	var term string
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search resources by term",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()
			results, err := app.VFS.Resources.Search(cmd.Context(), term, nil, 50, 0)
			if err != nil {
				return err
			}
			return printJSON(cmd, results)
		},
	}
	searchCmd.Flags().StringVar(&term, "q", "", "Search term")

	resourceCmd.AddCommand(getCmd, searchCmd)
	return resourceCmd
}

// printJSON writes v to cmd's stdout as indented JSON, the CLI's default
// output shape for anything structured since there is no TUI layer here.
func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
