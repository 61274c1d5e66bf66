package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl-sub002/pkg/api"
)

var storeCmd = &cobra.Command{
	Use:   "store <key> [content]",
	Short: "Create or replace a memory",
	Long: "Stores content under key, overwriting any existing version. " +
		"Content is read from the argument, or from stdin when omitted. " +
		"Use store-safe to detect concurrent edits instead of overwriting them.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, _ := cmd.Flags().GetString("area")
		content, err := contentArg(args)
		if err != nil {
			return err
		}
		tracker.RecordToolAction("memory.store")

		m, err := client.StoreMemory(cmd.Context(), api.StoreRequest{
			Key:     args[0],
			Content: content,
			Area:    area,
		})
		if err != nil {
			return err
		}
		fmt.Printf("stored %s (updated %s)\n", m.Key, m.UpdatedAt.Format("2006-01-02 15:04:05"))
		return nil
	},
}

// contentArg takes the content from the second argument, falling back to
// stdin so long content can be piped in.
func contentArg(args []string) (string, error) {
	if len(args) > 1 {
		return args[1], nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no content given: pass it as an argument or on stdin")
	}
	return string(data), nil
}

func init() {
	storeCmd.Flags().String("area", "", "area label for the memory")
	rootCmd.AddCommand(storeCmd)
}
