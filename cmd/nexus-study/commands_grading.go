package main

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/grading"
)

func buildGradeCmd() *cobra.Command {
	var configPath, sessionID, inputPath, topic, essayType, gradeLevel, modeID, model string
	var round int

	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade an essay through the configured grading modes",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			inputText, err := readEssayInput(inputPath)
			if err != nil {
				return err
			}
			if model == "" {
				model = app.Config.LLM.DefaultModel
			}

			req := &grading.Request{
				SessionID:   sessionID,
				RoundNumber: round,
				InputText:   inputText,
				Topic:       topic,
				EssayType:   essayType,
				GradeLevel:  gradeLevel,
				ModeID:      modeID,
			}
			if req.ModeID == "" {
				req.ModeID = app.Config.Grading.DefaultModeID
			}

			result, err := app.Grading.Grade(cmd.Context(), model, req)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&sessionID, "session", "", "Chat session id this grading round belongs to")
	cmd.Flags().StringVar(&inputPath, "input", "", "Path to the essay text ('-' reads stdin)")
	cmd.Flags().StringVar(&topic, "topic", "", "Essay topic/prompt")
	cmd.Flags().StringVar(&essayType, "type", "", "Essay type (narrative, argumentative, expository)")
	cmd.Flags().StringVar(&gradeLevel, "grade-level", "", "Grade level (middle_school, high_school, college)")
	cmd.Flags().StringVar(&modeID, "mode", "", "Grading mode id, overriding grading.default_mode_id")
	cmd.Flags().StringVar(&model, "model", "", "Model id, overriding llm.default_model")
	cmd.Flags().IntVar(&round, "round", 1, "Round number, for revision-aware grading modes")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func readEssayInput(path string) (string, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
