package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spool/internal/api"
	"spool/internal/client"
	"spool/internal/queue"
)

func newShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Display one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				record, err := apiClient.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Job "+record.ID, colorize) {
					fmt.Fprintln(out, line)
				}

				fmt.Fprintln(out, renderStatusLine("Status", jobStatusKind(record), record.Status, colorize))
				fmt.Fprintln(out, renderStatusLine("Stage", statusInfo, fmt.Sprintf("%s (%.0f%%)", record.Progress.Stage, record.Progress.Percent), colorize))
				if record.Title != "" {
					fmt.Fprintln(out, renderStatusLine("Title", statusInfo, record.Title, colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Source", statusInfo, record.SourceURL, colorize))
				if record.StreamURL != "" {
					fmt.Fprintln(out, renderStatusLine("Stream", statusOK, apiClient.StreamURL(record), colorize))
				}
				if record.DurationSeconds > 0 {
					fmt.Fprintln(out, renderStatusLine("Duration", statusInfo, formatDuration(record.DurationSeconds), colorize))
				}
				if record.Uploader != "" {
					fmt.Fprintln(out, renderStatusLine("Uploader", statusInfo, record.Uploader, colorize))
				}
				if record.ErrorMessage != "" {
					fmt.Fprintln(out, renderStatusLine("Error", statusError, record.ErrorMessage, colorize))
				}
				fmt.Fprintln(out, renderStatusLine("Created", statusInfo, record.CreatedAt, colorize))
				fmt.Fprintln(out, renderStatusLine("Updated", statusInfo, record.UpdatedAt, colorize))
				return nil
			})
		},
	}
}

func jobStatusKind(record api.JobRecord) statusKind {
	switch record.Status {
	case string(queue.StatusCompleted):
		return statusOK
	case string(queue.StatusFailed):
		return statusError
	case string(queue.StatusRunning):
		return statusInfo
	default:
		return statusWarn
	}
}

func formatDuration(seconds int) string {
	if seconds >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", seconds/3600, seconds%3600/60, seconds%60)
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
