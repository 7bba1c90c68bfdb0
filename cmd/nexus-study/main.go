// Command nexus-study is the CLI for the desktop AI study assistant's core
// substrate: the virtual file system, the chat pipeline, multimodal
// indexing/retrieval, the workspace coordinator, data governance, and essay
// grading.
//
// # Basic usage
//
//	nexus-study doctor --config study.yaml
//	nexus-study migrate up
//	nexus-study serve --config study.yaml
//
// # Environment variables
//
//   - NEXUS_STUDY_CONFIG: path to the configuration file
//   - NEXUS_STUDY_PROFILE: named profile, resolved to ~/.nexus-study/profiles/<name>.yaml
//   - ANTHROPIC_API_KEY / OPENAI_API_KEY: LLM provider credentials
//   - NEXUS_STUDY_DATA_DIR: overrides storage.data_dir
//   - NEXUS_STUDY_LOG_LEVEL: overrides logging.level
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during release builds:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version     = "dev"
	commit      = "none"
	date        = "unknown"
	profileName string
)

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// buildRootCmd assembles the root command and every subcommand. Kept
// separate from main so main_test.go can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nexus-study",
		Short: "nexus-study - desktop AI study assistant core substrate",
		Long: `nexus-study hosts the VFS, chat pipeline, multimodal indexing/
retrieval, workspace coordinator, data governance, and essay grading
modules behind one CLI and one optional HTTP/WebSocket boundary.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&profileName, "profile", "", "Named profile (~/.nexus-study/profiles/<name>.yaml; or set NEXUS_STUDY_PROFILE)")

	rootCmd.AddCommand(
		buildDoctorCmd(),
		buildMigrateCmd(),
		buildBackupCmd(),
		buildRestoreCmd(),
		buildServeCmd(),
		buildVfsCmd(),
		buildChatCmd(),
		buildWorkspaceCmd(),
		buildGradeCmd(),
		buildIndexCmd(),
	)

	return rootCmd
}
