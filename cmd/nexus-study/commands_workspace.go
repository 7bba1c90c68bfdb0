package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/governance"
	"github.com/haasonsaas/nexus-study/internal/workspace"
)

func buildWorkspaceCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage multi-agent workspaces",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(buildWorkspaceCreateCmd(&configPath))
	cmd.AddCommand(buildWorkspaceAgentCmd(&configPath))
	cmd.AddCommand(buildWorkspaceCloseCmd(&configPath))
	cmd.AddCommand(buildWorkspaceExportCmd(&configPath))
	cmd.AddCommand(buildWorkspaceImportCmd(&configPath))
	return cmd
}

// buildWorkspaceExportCmd wraps governance's RunZipExport over a single
// workspace's data directory, spec.md §4.5's "ZIP export/import analogous"
// transfer path for moving one workspace between machines.
func buildWorkspaceExportCmd(configPath *string) *cobra.Command {
	var sourceDir, destZip string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Archive a workspace's data directory to a zip file",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			jobID := uuid.NewString()
			opts := governance.ZipExportOptions{SourceDir: sourceDir, DestZip: destZip}
			if err := app.Backup.RunZipExport(cmd.Context(), jobID, opts, nil); err != nil {
				return fmt.Errorf("export failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export %s completed: %s\n", jobID, destZip)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceDir, "source-dir", "", "Workspace data directory to archive")
	cmd.Flags().StringVar(&destZip, "dest-zip", "", "Destination zip file path")
	_ = cmd.MarkFlagRequired("source-dir")
	_ = cmd.MarkFlagRequired("dest-zip")
	return cmd
}

func buildWorkspaceImportCmd(configPath *string) *cobra.Command {
	var sourceZip, destDir string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Extract a workspace archive into a data directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			jobID := uuid.NewString()
			opts := governance.ZipImportOptions{SourceZip: sourceZip, DestDir: destDir}
			if err := app.Backup.RunZipImport(cmd.Context(), jobID, opts); err != nil {
				return fmt.Errorf("import failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "import %s completed: %s\n", jobID, destDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&sourceZip, "source-zip", "", "Zip file to extract")
	cmd.Flags().StringVar(&destDir, "dest-dir", "", "Destination workspace data directory")
	_ = cmd.MarkFlagRequired("source-zip")
	_ = cmd.MarkFlagRequired("dest-dir")
	return cmd
}

func buildWorkspaceCreateCmd(configPath *string) *cobra.Command {
	var creatorSessionID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workspace and its coordinator agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			inst, err := app.Workspace.CreateWorkspace(cmd.Context(), creatorSessionID, name)
			if err != nil {
				return err
			}
			return printJSON(cmd, inst.Workspace)
		},
	}
	cmd.Flags().StringVar(&creatorSessionID, "creator", "", "Session id of the chat session creating the workspace")
	cmd.Flags().StringVar(&name, "name", "", "Workspace name")
	_ = cmd.MarkFlagRequired("creator")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func buildWorkspaceAgentCmd(configPath *string) *cobra.Command {
	var workspaceID, actorSessionID, newSessionID, role, skillID, taskPayload string
	cmd := &cobra.Command{
		Use:   "add-agent",
		Short: "Spawn a worker agent in an existing workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			agentRole := workspace.RoleWorker
			if role != "" {
				agentRole = workspace.AgentRole(role)
			}
			agent, err := app.Workspace.CreateAgent(cmd.Context(), workspaceID, actorSessionID, newSessionID, agentRole, skillID, taskPayload)
			if err != nil {
				return err
			}
			return printJSON(cmd, agent)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id")
	cmd.Flags().StringVar(&actorSessionID, "actor", "", "Session id of the agent requesting the spawn")
	cmd.Flags().StringVar(&newSessionID, "session", "", "Session id for the new agent")
	cmd.Flags().StringVar(&role, "role", "", "Agent role (defaults to worker)")
	cmd.Flags().StringVar(&skillID, "skill", "", "Skill id the new agent is bound to")
	cmd.Flags().StringVar(&taskPayload, "task", "", "Initial task payload delivered to the agent's inbox")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}

func buildWorkspaceCloseCmd(configPath *string) *cobra.Command {
	var workspaceID, actorSessionID string
	var delete bool
	cmd := &cobra.Command{
		Use:   "close",
		Short: "Close (or delete) a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			if delete {
				return app.Workspace.DeleteWorkspace(cmd.Context(), workspaceID, actorSessionID)
			}
			return app.Workspace.CloseWorkspace(cmd.Context(), workspaceID, actorSessionID)
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace", "", "Workspace id")
	cmd.Flags().StringVar(&actorSessionID, "actor", "", "Session id of the coordinator requesting the close")
	cmd.Flags().BoolVar(&delete, "delete", false, "Delete the workspace's database instead of just closing it")
	_ = cmd.MarkFlagRequired("workspace")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}
