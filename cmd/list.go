package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List memories",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		tracker.RecordToolAction("memory.list")

		list, err := client.ListMemories(cmd.Context(), limit)
		if err != nil {
			return err
		}
		fmt.Printf("%d memories (%s)\n", list.Total, client.LastFreshness())
		for _, m := range list.Memories {
			fmt.Printf("  %-40s %s  %s\n", m.Key, m.Area, m.UpdatedAt.Format("2006-01-02 15:04"))
		}
		return nil
	},
}

func init() {
	listCmd.Flags().Int("limit", 0, "maximum number of memories (0 = server default)")
	rootCmd.AddCommand(listCmd)
}
