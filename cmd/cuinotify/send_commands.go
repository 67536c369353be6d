package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"cuinotify/internal/notifier"
)

func newSendCommand(ctx *commandContext) *cobra.Command {
	sendCmd := &cobra.Command{
		Use:   "send",
		Short: "Dispatch a single notification",
	}
	sendCmd.AddCommand(newSendPermissionCommand(ctx))
	sendCmd.AddCommand(newSendCompleteCommand(ctx))
	sendCmd.AddCommand(newSendTestCommand(ctx))
	return sendCmd
}

func newSendPermissionCommand(ctx *commandContext) *cobra.Command {
	var (
		id          string
		tool        string
		input       string
		streamingID string
		sessionID   string
		summary     string
	)

	cmd := &cobra.Command{
		Use:   "permission",
		Short: "Notify that a tool is waiting for permission",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			if strings.TrimSpace(tool) == "" {
				return errors.New("--tool is required")
			}
			toolInput := parseToolInput(input)
			if strings.TrimSpace(id) == "" {
				id = uuid.NewString()
			}
			a.Dispatcher().NotifyPermissionRequest(cmd.Context(), notifier.PermissionRequest{
				ID:          id,
				ToolName:    tool,
				ToolInput:   toolInput,
				StreamingID: streamingID,
			}, sessionID, summary)
			fmt.Fprintf(cmd.OutOrStdout(), "Permission notification dispatched (request %s)\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&id, "id", "", "Permission request id (generated when empty)")
	cmd.Flags().StringVar(&tool, "tool", "", "Tool name awaiting approval")
	cmd.Flags().StringVar(&input, "input", "", "Tool input as JSON (plain text is sent as a string)")
	cmd.Flags().StringVar(&streamingID, "streaming-id", "", "Conversation stream id")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id")
	cmd.Flags().StringVar(&summary, "summary", "", "Conversation summary shown instead of the tool input")
	return cmd
}

func newSendCompleteCommand(ctx *commandContext) *cobra.Command {
	var (
		streamingID string
		sessionID   string
		summary     string
	)

	cmd := &cobra.Command{
		Use:     "complete",
		Aliases: []string{"conversation-end"},
		Short:   "Notify that a conversation finished",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			if strings.TrimSpace(streamingID) == "" {
				return errors.New("--streaming-id is required")
			}
			a.Dispatcher().NotifyConversationEnd(cmd.Context(), streamingID, sessionID, summary)
			fmt.Fprintln(cmd.OutOrStdout(), "Conversation end notification dispatched")
			return nil
		},
	}

	cmd.Flags().StringVar(&streamingID, "streaming-id", "", "Conversation stream id")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "Session id")
	cmd.Flags().StringVar(&summary, "summary", "", "Conversation summary")
	return cmd
}

func newSendTestCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test",
		Short: "Send a test notification and report per-channel results",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := ctx.ensureApp()
			if err != nil {
				return err
			}
			rep := a.Dispatcher().SendTest(cmd.Context())
			out := cmd.OutOrStdout()
			if !rep.Enabled {
				fmt.Fprintln(out, "Notifications are disabled (interface.notifications.enabled=false)")
				return nil
			}
			fmt.Fprintf(out, "Topic: %s\n", rep.Topic)
			fmt.Fprintln(out, renderReport(rep))
			for _, ch := range rep.Channels {
				if ch.Err != nil {
					return fmt.Errorf("test notification failed on %s", ch.Channel)
				}
			}
			return nil
		},
	}
}

func renderReport(rep notifier.Report) string {
	rows := make([][]string, 0, len(rep.Channels))
	for _, ch := range rep.Channels {
		status := "sent"
		switch {
		case ch.Skipped:
			status = "skipped"
		case ch.Err != nil:
			status = "failed"
		}
		detail := ch.Detail
		if ch.Err != nil {
			detail = ch.Err.Error()
		}
		rows = append(rows, []string{ch.Channel, status, detail})
	}
	return renderTable([]column{{title: "Channel"}, {title: "Status"}, {title: "Detail", maxRunes: 80}}, rows)
}

// parseToolInput passes valid JSON through untouched, so the preview keeps
// the caller's key order, and falls back to the raw string.
func parseToolInput(raw string) any {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}
	}
	if !json.Valid([]byte(raw)) {
		return raw
	}
	return json.RawMessage(raw)
}
