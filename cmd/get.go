package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl-sub002/internal/envelope"
)

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Fetch a memory by key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tracker.RecordToolAction("memory.get")

		m, err := client.GetMemory(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		raw, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode memory: %w", err)
		}
		fmt.Println(string(envelope.WrapJSON(raw, client.LastFreshness())))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(getCmd)
}
