package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spool/internal/api"
	"spool/internal/client"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List extraction jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				records, err := apiClient.ListJobs(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(records) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, record := range records {
					rows = append(rows, []string{
						record.ID,
						truncate(jobLabel(record), 40),
						record.Status,
						fmt.Sprintf("%.0f%%", record.Progress.Percent),
						truncate(record.Progress.Stage, 30),
						record.CreatedAt,
					})
				}
				table := renderTable(
					[]string{"ID", "Title", "Status", "Progress", "Stage", "Created"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVarP(&statuses, "status", "s", nil, "Filter by job status (repeatable)")
	return cmd
}

func jobLabel(record api.JobRecord) string {
	if record.Title != "" {
		return record.Title
	}
	return record.SourceURL
}

func truncate(value string, max int) string {
	if max <= 3 || len(value) <= max {
		return value
	}
	return value[:max-3] + "..."
}
