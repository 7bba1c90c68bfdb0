package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/config"
)

func buildDoctorCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and report tracked database schema status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	configPath = resolveConfigPath(configPath)
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	fmt.Fprintf(out, "Config OK (data dir: %s, default model: %s)\n", cfg.Storage.DataDir, cfg.LLM.DefaultModel)

	app, err := loadApp(configPath)
	if err != nil {
		return fmt.Errorf("failed to open tracked databases: %w", err)
	}
	defer app.Close()

	statuses, err := app.GovRegistry.StatusAll(cmd.Context())
	if err != nil {
		return fmt.Errorf("schema status: %w", err)
	}
	fmt.Fprintln(out, "Tracked databases:")
	for id, status := range statuses {
		fmt.Fprintf(out, "  - %s: %d migration(s) applied, checksum %s\n", id, status.DataContractVersion, status.AggregatedChecksum)
	}
	if cfg.LLM.AnthropicAPIKey == "" && cfg.LLM.OpenAIAPIKey == "" {
		fmt.Fprintln(out, "Warning: no LLM provider configured (set anthropic_api_key or openai_api_key)")
	}
	return nil
}

func buildMigrateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run or inspect the tracked databases' migrations",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show each tracked database's applied migration count",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations to every tracked database, in dependency order",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, configPath)
		},
	})
	return cmd
}

func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	app, err := loadApp(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	defer app.Close()

	statuses, err := app.GovRegistry.StatusAll(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for id, status := range statuses {
		fmt.Fprintf(out, "%s: version=%d checksum=%s\n", id, status.DataContractVersion, status.AggregatedChecksum)
	}
	return nil
}

func runMigrateUp(cmd *cobra.Command, configPath string) error {
	app, err := loadApp(resolveConfigPath(configPath))
	if err != nil {
		return err
	}
	defer app.Close()

	out := cmd.OutOrStdout()
	results := app.GovCoord.RunAll(cmd.Context())
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "%s: FAILED: %v\n", r.Database, r.Err)
			continue
		}
		fmt.Fprintf(out, "%s: %d -> %d (%d applied) in %s\n", r.Database, r.FromVersion, r.ToVersion, r.AppliedCount, r.Duration)
	}
	return nil
}
