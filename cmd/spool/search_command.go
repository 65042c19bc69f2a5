package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"spool/internal/client"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the catalog without queueing downloads",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				query := strings.Join(args, " ")
				resp, err := apiClient.Search(cmd.Context(), query, limit)
				if err != nil {
					return err
				}
				if len(resp.Results) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "No results for %q\n", resp.Query)
					return nil
				}

				rows := make([][]string, 0, len(resp.Results))
				for _, hit := range resp.Results {
					duration := ""
					if hit.DurationSeconds > 0 {
						duration = formatDuration(hit.DurationSeconds)
					}
					rows = append(rows, []string{
						truncate(hit.Title, 50),
						truncate(hit.Uploader, 25),
						duration,
						hit.SourceURL,
					})
				}
				table := renderTable(
					[]string{"Title", "Uploader", "Duration", "URL"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	return cmd
}
