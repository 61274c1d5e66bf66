package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/memctl/memctl-sub002/internal/config"
	"github.com/memctl/memctl-sub002/internal/memclient"
	"github.com/memctl/memctl-sub002/internal/session"
)

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Client for the shared memory store",
	Long: "memctl talks to a remote memory API on behalf of a coding agent: cached " +
		"reads with revalidation, conflict-aware writes, and automatic session logging.",
	SilenceUsage:      true,
	PersistentPreRunE: setupRuntime,
}

// Runtime shared by every command; built once in setupRuntime.
var (
	cfg     *config.Config
	client  *memclient.Client
	tracker *session.Tracker
)

// setupRuntime builds the client and session tracker. The version command
// needs neither credentials nor network.
func setupRuntime(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	client = memclient.New(memclient.Config{
		BaseURL:     cfg.BaseURL,
		Token:       cfg.Token,
		OrgSlug:     cfg.OrgSlug,
		ProjectSlug: cfg.ProjectSlug,
		CacheTTL:    cfg.CacheTTL,
		StaleGrace:  cfg.StaleGrace,
		HTTPTimeout: cfg.HTTPTimeout,
	})

	tracker = session.NewTracker(client, cfg.Branch)
	client.SetObserver(tracker.Record)
	tracker.Start(cfg.FlushInterval)

	// Handoff derivation and the stale-session sweep run off the critical
	// path; commands that want the result call DeriveHandoff themselves
	// and get the memoized answer.
	go tracker.DeriveHandoff(context.Background())

	return nil
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)

	if tracker != nil {
		tracker.Stop()
		tracker.Finalize("exit")
	}
	return err
}
