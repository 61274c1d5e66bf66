package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var handoffCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Show what the previous session left behind",
	RunE: func(cmd *cobra.Command, args []string) error {
		h := tracker.DeriveHandoff(cmd.Context())
		if h == nil {
			fmt.Println("no previous session found")
			return nil
		}
		fmt.Printf("previous session: %s", h.PreviousSessionID)
		if h.Branch != "" {
			fmt.Printf(" (branch %s)", h.Branch)
		}
		fmt.Println()
		if h.EndedAt != nil {
			fmt.Printf("ended: %s\n", h.EndedAt.Format(time.RFC3339))
		} else {
			fmt.Println("ended: still open")
		}
		if h.Summary != "" {
			fmt.Printf("summary:\n%s\n", h.Summary)
		}
		if len(h.KeysWritten) > 0 {
			fmt.Printf("keys written: %s\n", strings.Join(h.KeysWritten, ", "))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(handoffCmd)
}
