package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl-sub002/internal/conflict"
)

var storeSafeCmd = &cobra.Command{
	Use:   "store-safe <key> [content]",
	Short: "Store a memory, detecting concurrent edits",
	Long: "Writes content under key only if the remote record has not changed " +
		"since --if-unmodified-since. On conflict the --on-conflict strategy " +
		"decides: reject (default), last_write_wins, append, or return_both.",
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		area, _ := cmd.Flags().GetString("area")
		sinceArg, _ := cmd.Flags().GetString("if-unmodified-since")
		strategy, _ := cmd.Flags().GetString("on-conflict")

		var since time.Time
		if sinceArg != "" {
			var err error
			since, err = time.Parse(time.RFC3339, sinceArg)
			if err != nil {
				return fmt.Errorf("parse --if-unmodified-since: %w", err)
			}
		}
		content, err := contentArg(args)
		if err != nil {
			return err
		}
		tracker.RecordToolAction("memory.store_safe")

		res, err := conflict.New(client).SafeStore(cmd.Context(), conflict.Request{
			Key:               args[0],
			Content:           content,
			Area:              area,
			IfUnmodifiedSince: since,
			OnConflict:        conflict.Strategy(strategy),
		})
		if err != nil {
			return err
		}
		fmt.Println(res.Describe())
		return nil
	},
}

func init() {
	storeSafeCmd.Flags().String("area", "", "area label for the memory")
	storeSafeCmd.Flags().String("if-unmodified-since", "", "updatedAt from your last read (RFC 3339)")
	storeSafeCmd.Flags().String("on-conflict", "", "conflict strategy: reject, last_write_wins, append, return_both")
	rootCmd.AddCommand(storeSafeCmd)
}
