// Package session tracks what a client process does during its lifetime
// and persists it to the remote session log: which keys were read and
// written, which tools ran, and a summary handed off to the next session.
//
// One Tracker exists per process. A background loop flushes accumulated
// activity while the session is dirty; a finalize step closes the session
// exactly once, either explicitly or from the process exit path.
package session

import (
	"context"
	"log"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/memctl/memctl-sub002/pkg/api"
)

const (
	// DefaultFlushInterval is the period of the background flush loop.
	DefaultFlushInterval = 30 * time.Second

	// staleSessionAge is how long a session may stay open before the
	// startup sweep force-closes it.
	staleSessionAge = 2 * time.Hour

	// finalizeTimeout bounds the last write so a dead network cannot
	// hold up process exit.
	finalizeTimeout = 5 * time.Second

	// handoffFetchLimit is how many recent logs the startup derivation
	// examines.
	handoffFetchLimit = 10
)

// Flush retry tuning; tests shrink the interval.
var (
	flushRetryInterval = 500 * time.Millisecond
	flushRetryAttempts = uint64(2)
)

// internalKeyPrefixes are bookkeeping namespaces, never user memory
// activity.
var internalKeyPrefixes = []string{"claims/", "session/"}

// Sink persists session activity. *memclient.Client satisfies it.
type Sink interface {
	UpsertSessionLog(ctx context.Context, req api.UpsertSessionLogRequest) error
	GetSessionLogs(ctx context.Context, limit int, branch string) ([]api.SessionLog, error)
}

// Handoff is what the previous session left for this one.
type Handoff struct {
	PreviousSessionID string
	Summary           string
	Branch            string
	KeysWritten       []string
	EndedAt           *time.Time
}

// Tracker accumulates the activity of one session. All fields are guarded
// by mu: the foreground recorder and the background flush loop both touch
// them.
type Tracker struct {
	sink Sink

	mu              sync.Mutex
	id              string
	branch          string
	readKeys        map[string]struct{}
	writtenKeys     map[string]struct{}
	toolActions     map[string]struct{}
	areas           map[string]struct{}
	apiCalls        int
	dirty           bool
	closed          bool
	endedExplicitly bool
	startedAt       time.Time
	handoff         *Handoff

	handoffOnce sync.Once
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// now is swapped out in tests.
	now func() time.Time
}

// NewTracker creates the process's tracker with a generated session ID.
func NewTracker(sink Sink, branch string) *Tracker {
	now := time.Now
	t := &Tracker{
		sink:        sink,
		branch:      branch,
		readKeys:    make(map[string]struct{}),
		writtenKeys: make(map[string]struct{}),
		toolActions: make(map[string]struct{}),
		areas:       make(map[string]struct{}),
		startedAt:   now(),
		now:         now,
	}
	t.id = generateID(t.startedAt)
	return t
}

// generateID builds "auto-<base36 millis>-<random>" session IDs.
func generateID(at time.Time) string {
	return "auto-" + strconv.FormatInt(at.UnixMilli(), 36) + "-" + uuid.NewString()[:8]
}

// ID returns the session ID.
func (t *Tracker) ID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Handoff returns the derived handoff, or nil before derivation (or when
// no prior session exists).
func (t *Tracker) Handoff() *Handoff {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.handoff
}

// Start launches the periodic flush loop. The loop stops when Stop is
// called; it holds nothing that outlives the process, so exit never waits
// on it beyond the final flush in Finalize.
func (t *Tracker) Start(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				t.flush(ctx)
			}
		}
	}()
}

// Stop halts the flush loop and waits for it to exit. It does not
// finalize the session.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
		t.wg.Wait()
	}
}

// Record inspects one API call and folds it into the session. Housekeeping
// endpoints and bookkeeping key namespaces are excluded.
func (t *Tracker) Record(method, path string, body []byte) {
	if isHousekeeping(path) {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}

	t.apiCalls++
	t.dirty = true
	if area := pathArea(path); area != "" {
		t.areas[area] = struct{}{}
	}

	key := keyFrom(method, path, body)
	if key == "" || isInternalKey(key) {
		return
	}
	switch method {
	case "GET":
		t.readKeys[key] = struct{}{}
	default:
		t.writtenKeys[key] = struct{}{}
	}
}

// RecordToolAction notes an explicit tool invocation, e.g. "memory.store".
func (t *Tracker) RecordToolAction(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.toolActions[name] = struct{}{}
	t.dirty = true
}

// Summary renders the current session state.
func (t *Tracker) Summary() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return BuildSummary(t.snapshotLocked())
}

// End closes the session explicitly and persists the final log. Later
// process-exit finalization becomes a no-op.
func (t *Tracker) End(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.endedExplicitly = true
	req := t.upsertRequestLocked(true)
	t.mu.Unlock()

	return t.sink.UpsertSessionLog(ctx, req)
}

// Finalize is the process-exit path: it closes the session once and
// attempts one last write, bounded by a short timeout. Failures are
// logged, never raised — a dead network must not block exit.
func (t *Tracker) Finalize(reason string) {
	t.mu.Lock()
	if t.closed {
		// Already ended explicitly (or finalized); nothing to do.
		t.mu.Unlock()
		return
	}
	t.closed = true
	req := t.upsertRequestLocked(true)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := t.sink.UpsertSessionLog(ctx, req); err != nil {
		log.Printf("[session] finalize (%s) failed: %v", reason, err)
	}
}

// flush persists a snapshot when there is unflushed activity. On failure
// the dirty flag is restored so the next cycle retries.
func (t *Tracker) flush(ctx context.Context) {
	t.mu.Lock()
	if !t.dirty || t.closed {
		t.mu.Unlock()
		return
	}
	t.dirty = false
	req := t.upsertRequestLocked(false)
	t.mu.Unlock()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = flushRetryInterval
	err := backoff.Retry(func() error {
		return t.sink.UpsertSessionLog(ctx, req)
	}, backoff.WithContext(backoff.WithMaxRetries(bo, flushRetryAttempts), ctx))
	if err != nil {
		log.Printf("[session] flush failed: %v", err)
		t.mu.Lock()
		t.dirty = true
		t.mu.Unlock()
	}
}

// upsertRequestLocked builds the persistence request from current state.
// Callers hold mu.
func (t *Tracker) upsertRequestLocked(ended bool) api.UpsertSessionLogRequest {
	req := api.UpsertSessionLogRequest{
		SessionID:   t.id,
		Branch:      t.branch,
		Summary:     BuildSummary(t.snapshotLocked()),
		KeysRead:    sortedKeys(t.readKeys),
		KeysWritten: sortedKeys(t.writtenKeys),
		ToolsUsed:   sortedKeys(t.toolActions),
	}
	if ended {
		endedAt := t.now()
		req.EndedAt = &endedAt
	}
	return req
}

func (t *Tracker) snapshotLocked() Snapshot {
	return Snapshot{
		StartedAt: t.startedAt,
		Now:       t.now(),
		APICalls:  t.apiCalls,
		Written:   sortedKeys(t.writtenKeys),
		Read:      sortedKeys(t.readKeys),
		Tools:     sortedKeys(t.toolActions),
	}
}

// isHousekeeping excludes endpoints whose traffic is bookkeeping: health
// probes and the session-log persistence itself.
func isHousekeeping(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/session-logs")
}

func isInternalKey(key string) bool {
	for _, p := range internalKeyPrefixes {
		if strings.HasPrefix(key, p) {
			return true
		}
	}
	return false
}

// pathArea returns the top-level path segment: "/memories/foo" -> "memories".
func pathArea(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexAny(path, "/?"); i >= 0 {
		path = path[:i]
	}
	return path
}

// keyFrom extracts the memory key an API call touched, from the path for
// keyed endpoints and from the body for collection posts. Collection reads
// (lists, searches) touch no single key.
func keyFrom(method, path string, body []byte) string {
	if len(body) > 0 {
		if k := gjson.GetBytes(body, "key").String(); k != "" {
			return k
		}
	}
	rest, ok := strings.CutPrefix(path, "/memories/")
	if !ok {
		return ""
	}
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		rest = rest[:i]
	}
	switch rest {
	case "", "search", "export":
		return ""
	}
	if k, err := url.PathUnescape(rest); err == nil {
		return k
	}
	return rest
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
