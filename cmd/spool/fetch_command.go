package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"spool/internal/api"
	"spool/internal/client"
	"spool/internal/logging"
	"spool/internal/queue"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	var title string

	cmd := &cobra.Command{
		Use:   "fetch <url>",
		Short: "Queue audio extraction for a source URL and follow it to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				out := cmd.OutOrStdout()

				record, created, err := apiClient.CreateJob(cmd.Context(), args[0], title)
				if err != nil {
					return err
				}
				if record.Terminal() {
					if record.Progress.Stage == "Loaded from cache" {
						fmt.Fprintln(out, "Already cached")
					}
					return printOutcome(out, apiClient, record)
				}
				if created {
					fmt.Fprintf(out, "Queued job %s\n", record.ID)
				} else {
					fmt.Fprintf(out, "Attached to job %s\n", record.ID)
				}

				var (
					final    api.JobRecord
					finalErr error
				)
				renderer := newProgressRenderer(out)
				manager := client.NewManager(apiClient, logging.NewNop())
				handle, err := manager.Subscribe(cmd.Context(), record.ID, client.Callbacks{
					OnProgress: func(r api.JobRecord) { renderer.Update(r) },
					OnTerminal: func(r api.JobRecord) { final = r },
					OnError:    func(err error) { finalErr = err },
				})
				if err != nil {
					return err
				}

				select {
				case <-cmd.Context().Done():
					manager.Unsubscribe(record.ID)
					return cmd.Context().Err()
				case <-handle.Done():
				}
				renderer.Finish()

				if finalErr != nil {
					return finalErr
				}
				return printOutcome(out, apiClient, final)
			})
		},
	}

	cmd.Flags().StringVarP(&title, "title", "t", "", "Preferred title for the extracted audio")
	return cmd
}

func printOutcome(out io.Writer, apiClient *client.Client, record api.JobRecord) error {
	if record.Status == string(queue.StatusCompleted) {
		label := strings.TrimSpace(record.Title)
		if label == "" {
			label = record.ContentKey
		}
		fmt.Fprintf(out, "Complete: %s\n", label)
		fmt.Fprintf(out, "Stream:   %s\n", apiClient.StreamURL(record))
		return nil
	}
	message := strings.TrimSpace(record.ErrorMessage)
	if message == "" {
		message = "no error detail recorded"
	}
	return fmt.Errorf("extraction failed: %s", message)
}
