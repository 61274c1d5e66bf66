package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		tracker.RecordToolAction("memory.search")

		results, err := client.SearchMemories(cmd.Context(), strings.Join(args, " "), limit)
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("no matches")
			return nil
		}
		fmt.Printf("%d matches (%s)\n", len(results), client.LastFreshness())
		for _, m := range results {
			fmt.Printf("  %-40s %s\n", m.Key, firstLine(m.Content))
		}
		return nil
	},
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 80 {
		s = s[:80] + "..."
	}
	return s
}

func init() {
	searchCmd.Flags().Int("limit", 10, "maximum number of results")
	rootCmd.AddCommand(searchCmd)
}
