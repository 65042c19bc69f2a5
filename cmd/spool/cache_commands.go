package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"spool/internal/client"
)

func newCacheCommand(ctx *commandContext) *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage cached audio artifacts",
	}

	cacheCmd.AddCommand(newCacheListCommand(ctx))
	cacheCmd.AddCommand(newCacheDeleteCommand(ctx))

	return cacheCmd
}

func newCacheListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List cached artifacts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				entries, err := apiClient.CacheEntries(cmd.Context())
				if err != nil {
					return err
				}
				if len(entries) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Cache is empty")
					return nil
				}

				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					duration := ""
					if entry.DurationSeconds > 0 {
						duration = formatDuration(entry.DurationSeconds)
					}
					rows = append(rows, []string{
						entry.ContentKey,
						truncate(entry.Title, 40),
						duration,
						entry.CreatedAt,
					})
				}
				table := renderTable(
					[]string{"Content Key", "Title", "Duration", "Cached"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(cmd.OutOrStdout(), table)
				return nil
			})
		},
	}
}

func newCacheDeleteCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <content-key>",
		Short: "Evict one cached artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				if err := apiClient.DeleteCacheEntry(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Evicted %s\n", args[0])
				return nil
			})
		},
	}
}
