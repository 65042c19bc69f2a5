package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"spool/internal/client"
)

func newHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(apiClient *client.Client) error {
				health, err := apiClient.Health(cmd.Context())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)
				for _, line := range renderSectionHeader("Spool Daemon", colorize) {
					fmt.Fprintln(out, line)
				}

				statusKindValue := statusOK
				if health.Status != "ok" {
					statusKindValue = statusError
				}
				fmt.Fprintln(out, renderStatusLine("Status", statusKindValue, health.Status, colorize))
				fmt.Fprintln(out, renderStatusLine("Queued jobs", statusInfo, strconv.Itoa(health.QueuedJobs), colorize))
				fmt.Fprintln(out, renderStatusLine("Running jobs", statusInfo, strconv.Itoa(health.RunningJobs), colorize))
				fmt.Fprintln(out, renderStatusLine("Cached tracks", statusInfo, strconv.Itoa(health.CachedCount), colorize))
				if health.EngineVersion != "" {
					fmt.Fprintln(out, renderStatusLine("Engine", statusInfo, health.EngineVersion, colorize))
				}
				return nil
			})
		},
	}
}
