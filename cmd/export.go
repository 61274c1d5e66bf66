package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl-sub002/internal/envelope"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export all memories as markdown",
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker.RecordToolAction("memory.export")

		p, err := client.ExportMemories(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Println(string(envelope.Wrap(*p)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(exportCmd)
}
