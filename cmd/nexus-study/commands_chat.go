package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/nexus-study/internal/chatpipeline"
)

func buildChatCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Drive chat_v2 sessions from the command line",
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")

	cmd.AddCommand(buildChatNewCmd(&configPath))
	cmd.AddCommand(buildChatSendCmd(&configPath))
	cmd.AddCommand(buildChatShowCmd(&configPath))
	return cmd
}

func buildChatNewCmd(configPath *string) *cobra.Command {
	var title, mode string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Create a new chat session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			sessMode := chatpipeline.ModeChat
			if mode != "" {
				sessMode = chatpipeline.SessionMode(mode)
			}
			sess := &chatpipeline.Session{Mode: sessMode, Title: title, PersistStatus: chatpipeline.StatusActive}
			if err := app.Pipeline.Store.CreateSession(cmd.Context(), sess); err != nil {
				return err
			}
			return printJSON(cmd, sess)
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Session title")
	cmd.Flags().StringVar(&mode, "mode", "", "Session mode (defaults to chat)")
	return cmd
}

func buildChatSendCmd(configPath *string) *cobra.Command {
	var sessionID, content, model string
	var attachments []string
	var wait bool

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to a session and stream the assistant's reply",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			if model == "" {
				model = app.Config.LLM.DefaultModel
			}
			assistantID, err := app.Pipeline.SendMessage(cmd.Context(), chatpipeline.SendRequest{
				SessionID:      sessionID,
				Content:        content,
				AttachmentRefs: attachments,
				Model:          model,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "assistant message: %s\n", assistantID)
			if !wait {
				return nil
			}
			return awaitAssistantReply(cmd, app, sessionID, assistantID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id")
	cmd.Flags().StringVar(&content, "content", "", "User message content")
	cmd.Flags().StringVar(&model, "model", "", "Model id, overriding llm.default_model")
	cmd.Flags().StringSliceVar(&attachments, "attach", nil, "VFS resource ids referenced by this turn")
	cmd.Flags().BoolVar(&wait, "wait", false, "Block until the assistant stream finishes before returning")
	_ = cmd.MarkFlagRequired("session")
	_ = cmd.MarkFlagRequired("content")
	return cmd
}

// awaitAssistantReply subscribes to the session's event channel and blocks
// until SendMessage's background stream reaches a terminal state, the CLI
// analogue of chat_ws.go's WebSocket loop for callers without a browser.
func awaitAssistantReply(cmd *cobra.Command, app *App, sessionID, assistantID string) error {
	if app.Pipeline.Bus == nil {
		return fmt.Errorf("chat: event bus not configured")
	}
	events := app.Pipeline.Bus.Subscribe("chat_v2_session_" + sessionID)
	defer app.Pipeline.Bus.Unsubscribe("chat_v2_session_" + sessionID)

	timeout := time.After(2 * time.Minute)
	for {
		select {
		case evt := <-events:
			se, ok := evt.Payload.(chatpipeline.SessionEvent)
			if !ok {
				continue
			}
			switch se.Kind {
			case chatpipeline.SessionStreamComplete:
				return printMessageText(cmd, app, assistantID)
			case chatpipeline.SessionStreamError:
				return fmt.Errorf("stream failed: %s", se.Error)
			case chatpipeline.SessionStreamCancelled:
				return fmt.Errorf("stream cancelled")
			}
		case <-timeout:
			return fmt.Errorf("chat: timed out waiting for assistant reply")
		}
	}
}

func printMessageText(cmd *cobra.Command, app *App, messageID string) error {
	text, err := app.Pipeline.Store.MessageText(cmd.Context(), messageID)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}

func buildChatShowCmd(configPath *string) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print a session's messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := loadApp(resolveConfigPath(*configPath))
			if err != nil {
				return err
			}
			defer app.Close()

			msgs, err := app.Pipeline.Store.ListMessages(cmd.Context(), sessionID)
			if err != nil {
				return err
			}
			return printJSON(cmd, msgs)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id")
	_ = cmd.MarkFlagRequired("session")
	return cmd
}
