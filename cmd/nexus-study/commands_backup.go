package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/governance"
)

func buildBackupCmd() *cobra.Command {
	var configPath, destDir string

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Run a backup job across the tracked databases",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBackup(cmd, configPath, destDir)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&destDir, "dest", "", "Destination directory for the backup manifest (defaults to governance.backup_dir)")
	return cmd
}

func runBackup(cmd *cobra.Command, configPath, destDir string) error {
	app, err := loadApp(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	defer app.Close()

	if destDir == "" {
		destDir = app.Config.Governance.BackupDir
	}
	jobID := uuid.NewString()
	if err := app.Backup.RunBackup(cmd.Context(), jobID, governance.BackupOptions{DestDir: destDir}); err != nil {
		return fmt.Errorf("backup failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "backup %s completed: %s\n", jobID, destDir)
	return nil
}

func buildRestoreCmd() *cobra.Command {
	var configPath, manifestPath, slotDir string

	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Restore the tracked databases from a backup manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRestore(cmd, configPath, manifestPath, slotDir)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the backup manifest to restore from")
	cmd.Flags().StringVar(&slotDir, "slot-dir", "", "Inactive storage slot directory to restore into")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("slot-dir")
	return cmd
}

func runRestore(cmd *cobra.Command, configPath, manifestPath, slotDir string) error {
	app, err := loadApp(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	defer app.Close()

	jobID := uuid.NewString()
	opts := governance.RestoreOptions{ManifestPath: manifestPath, InactiveSlotDir: slotDir}
	if err := app.Backup.RunRestore(cmd.Context(), jobID, opts, openRestoredDB); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "restore %s completed into %s\n", jobID, slotDir)
	return nil
}
