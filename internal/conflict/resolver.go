// Package conflict implements the optimistic-concurrency safe write path.
//
// A safe write compares the remote record's updatedAt with the timestamp
// the caller last saw. No locking is involved: a conflict is detected after
// the fact and resolved by the caller-chosen strategy. This protects a
// single client from overwriting changes it has not seen; it is not a
// global ordering guarantee across clients.
package conflict

import (
	"context"
	"fmt"
	"time"

	"github.com/memctl/memctl-sub002/pkg/api"
)

// Strategy selects what happens when a conflict is detected.
type Strategy string

const (
	// Reject refuses the write and returns truncated both versions.
	Reject Strategy = "reject"
	// LastWriteWins writes the caller's content over the remote value.
	LastWriteWins Strategy = "last_write_wins"
	// Append writes remote content + separator + caller content.
	Append Strategy = "append"
	// ReturnBoth refuses the write and returns both versions in full.
	ReturnBoth Strategy = "return_both"
)

// Separator joins the two versions for the append strategy.
const Separator = "\n\n---\n\n"

// truncateLimit bounds the content echoed back by the reject strategy.
const truncateLimit = 500

// Store is the slice of the memory client the resolver needs.
type Store interface {
	GetMemory(ctx context.Context, key string) (*api.Memory, error)
	StoreMemory(ctx context.Context, req api.StoreRequest) (*api.Memory, error)
}

// Request is one safe-write call.
type Request struct {
	Key     string
	Content string
	Area    string

	// IfUnmodifiedSince is the remote updatedAt the caller last saw.
	IfUnmodifiedSince time.Time

	// OnConflict defaults to Reject.
	OnConflict Strategy
}

// Result describes the outcome. A conflict is a normal result, never an
// error.
type Result struct {
	Conflict bool
	Written  bool
	Strategy Strategy

	// Memory is the stored record when a write happened.
	Memory *api.Memory

	// Ours and Theirs carry both versions when no write happened
	// (truncated for Reject, full for ReturnBoth).
	Ours      string
	Theirs    string
	Truncated bool

	// TheirUpdatedAt is the remote timestamp that triggered the
	// conflict; OursAsOf echoes the caller's IfUnmodifiedSince.
	TheirUpdatedAt time.Time
	OursAsOf       time.Time
}

// Resolver performs safe writes through a memory client.
type Resolver struct {
	store Store
}

// New creates a Resolver.
func New(store Store) *Resolver {
	return &Resolver{store: store}
}

// SafeStore writes req.Content under req.Key unless the remote record
// changed after req.IfUnmodifiedSince, in which case the strategy decides.
func (r *Resolver) SafeStore(ctx context.Context, req Request) (*Result, error) {
	strategy := req.OnConflict
	if strategy == "" {
		strategy = Reject
	}
	switch strategy {
	case Reject, LastWriteWins, Append, ReturnBoth:
	default:
		return nil, fmt.Errorf("unknown on_conflict strategy %q", strategy)
	}

	// Best effort: an unreachable or missing record means there is
	// nothing to conflict with.
	current, err := r.store.GetMemory(ctx, req.Key)
	if err != nil {
		current = nil
	}

	if current == nil || !current.UpdatedAt.After(req.IfUnmodifiedSince) {
		m, err := r.store.StoreMemory(ctx, api.StoreRequest{Key: req.Key, Content: req.Content, Area: req.Area})
		if err != nil {
			return nil, err
		}
		return &Result{Written: true, Strategy: strategy, Memory: m}, nil
	}

	switch strategy {
	case LastWriteWins:
		m, err := r.store.StoreMemory(ctx, api.StoreRequest{Key: req.Key, Content: req.Content, Area: req.Area})
		if err != nil {
			return nil, err
		}
		return &Result{Conflict: true, Written: true, Strategy: strategy, Memory: m}, nil

	case Append:
		merged := current.Content + Separator + req.Content
		m, err := r.store.StoreMemory(ctx, api.StoreRequest{Key: req.Key, Content: merged, Area: req.Area})
		if err != nil {
			return nil, err
		}
		return &Result{Conflict: true, Written: true, Strategy: strategy, Memory: m}, nil

	case ReturnBoth:
		return &Result{
			Conflict:       true,
			Strategy:       strategy,
			Ours:           req.Content,
			Theirs:         current.Content,
			TheirUpdatedAt: current.UpdatedAt,
			OursAsOf:       req.IfUnmodifiedSince,
		}, nil

	default: // Reject
		ours, oursCut := truncate(req.Content)
		theirs, theirsCut := truncate(current.Content)
		return &Result{
			Conflict:       true,
			Strategy:       Reject,
			Ours:           ours,
			Theirs:         theirs,
			Truncated:      oursCut || theirsCut,
			TheirUpdatedAt: current.UpdatedAt,
			OursAsOf:       req.IfUnmodifiedSince,
		}, nil
	}
}

// Describe renders a result as actionable text for the agent.
func (res *Result) Describe() string {
	switch {
	case !res.Conflict:
		return "stored (no conflict)"
	case res.Written:
		return fmt.Sprintf("conflict resolved with %s; record written", res.Strategy)
	default:
		return fmt.Sprintf(
			"conflict: the record changed at %s, after your last read (%s).\n"+
				"Your version:\n%s\n\nCurrent version:\n%s\n\n"+
				"Re-read the key and retry, or use last_write_wins/append.",
			res.TheirUpdatedAt.Format(time.RFC3339),
			res.OursAsOf.Format(time.RFC3339),
			res.Ours, res.Theirs,
		)
	}
}

func truncate(s string) (string, bool) {
	runes := []rune(s)
	if len(runes) <= truncateLimit {
		return s, false
	}
	return string(runes[:truncateLimit]) + "...", true
}
