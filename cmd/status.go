package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check connectivity to the memory API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.Ping(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("connected to %s\n", cfg.BaseURL)
		fmt.Printf("org: %s  project: %s\n", cfg.OrgSlug, cfg.ProjectSlug)
		fmt.Printf("session: %s\n", tracker.ID())
		if f := client.LastFreshness(); f != "" {
			fmt.Printf("last read: %s\n", f)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
