// Package e2e exercises the full client runtime against a fake memory API:
// cached reads with revalidation, conflict-aware writes, and session
// logging, wired together the way the CLI wires them.
package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/memctl/memctl-sub002/internal/conflict"
	"github.com/memctl/memctl-sub002/internal/memclient"
	"github.com/memctl/memctl-sub002/internal/session"
	"github.com/memctl/memctl-sub002/pkg/api"
)

// fakeAPI is an in-memory memory API with ETag revalidation.
type fakeAPI struct {
	mu       sync.Mutex
	memories map[string]api.Memory
	logs     map[string]api.SessionLog
	version  int
	gets     int // network GETs under /memories
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		memories: make(map[string]api.Memory),
		logs:     make(map[string]api.SessionLog),
		version:  1,
	}
}

func (f *fakeAPI) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" ||
			r.Header.Get("X-Org-Slug") == "" || r.Header.Get("X-Project-Slug") == "" {
			writeJSON(w, http.StatusUnauthorized, api.ErrorResponse{Error: "unauthorized"})
			return
		}

		switch {
		case r.URL.Path == "/health":
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

		case r.URL.Path == "/session-logs" && r.Method == http.MethodPost:
			f.upsertLog(w, r)

		case r.URL.Path == "/session-logs" && r.Method == http.MethodGet:
			f.listLogs(w)

		case r.URL.Path == "/memories" && r.Method == http.MethodPost:
			f.storeMemory(w, r)

		case strings.HasPrefix(r.URL.Path, "/memories") && r.Method == http.MethodGet:
			f.getUnderMemories(w, r)

		case strings.HasPrefix(r.URL.Path, "/memories/") && r.Method == http.MethodDelete:
			f.deleteMemory(w, r)

		default:
			writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "no such route"})
		}
	})
}

// getUnderMemories serves list, search, export, and single-key reads, all
// sharing one store-wide ETag so any write invalidates every conditional.
func (f *fakeAPI) getUnderMemories(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.gets++
	etag := fmt.Sprintf(`"v%d"`, f.version)
	f.mu.Unlock()

	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("ETag", etag)

	switch {
	case r.URL.Path == "/memories":
		f.mu.Lock()
		list := api.MemoryListResponse{Memories: []api.Memory{}, Total: len(f.memories)}
		for _, m := range f.memories {
			list.Memories = append(list.Memories, m)
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, list)

	case r.URL.Path == "/memories/search":
		q := r.URL.Query().Get("q")
		f.mu.Lock()
		res := api.SearchResponse{Results: []api.Memory{}}
		for _, m := range f.memories {
			if strings.Contains(m.Content, q) || strings.Contains(m.Key, q) {
				res.Results = append(res.Results, m)
			}
		}
		f.mu.Unlock()
		writeJSON(w, http.StatusOK, res)

	case r.URL.Path == "/memories/export":
		w.Header().Set("Content-Type", "text/markdown")
		fmt.Fprintf(w, "# Memory export\n\n%d memories\n", len(f.memories))

	default:
		key, _ := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/memories/"))
		f.mu.Lock()
		m, ok := f.memories[key]
		f.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, api.ErrorResponse{Error: "memory not found"})
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}

func (f *fakeAPI) storeMemory(w http.ResponseWriter, r *http.Request) {
	var req api.StoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "bad body"})
		return
	}
	f.mu.Lock()
	now := time.Now().UTC()
	m, ok := f.memories[req.Key]
	if !ok {
		m = api.Memory{Key: req.Key, CreatedAt: now}
	}
	m.Content, m.Area, m.UpdatedAt = req.Content, req.Area, now
	f.memories[req.Key] = m
	f.version++
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, m)
}

func (f *fakeAPI) deleteMemory(w http.ResponseWriter, r *http.Request) {
	key, _ := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/memories/"))
	f.mu.Lock()
	delete(f.memories, key)
	f.version++
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (f *fakeAPI) upsertLog(w http.ResponseWriter, r *http.Request) {
	var req api.UpsertSessionLogRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: "bad body"})
		return
	}
	f.mu.Lock()
	lg, ok := f.logs[req.SessionID]
	if !ok {
		lg = api.SessionLog{SessionID: req.SessionID, StartedAt: time.Now().UTC()}
	}
	lg.Branch, lg.Summary, lg.EndedAt = req.Branch, req.Summary, req.EndedAt
	lg.KeysRead = encodeList(req.KeysRead)
	lg.KeysWritten = encodeList(req.KeysWritten)
	lg.ToolsUsed = encodeList(req.ToolsUsed)
	f.logs[req.SessionID] = lg
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, lg)
}

func (f *fakeAPI) listLogs(w http.ResponseWriter) {
	f.mu.Lock()
	res := api.SessionLogsResponse{SessionLogs: []api.SessionLog{}}
	for _, lg := range f.logs {
		res.SessionLogs = append(res.SessionLogs, lg)
	}
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, res)
}

func (f *fakeAPI) getCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func encodeList(items []string) string {
	b, _ := json.Marshal(items)
	return string(b)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func newRuntime(t *testing.T, baseURL string, ttl time.Duration) (*memclient.Client, *session.Tracker) {
	t.Helper()
	client := memclient.New(memclient.Config{
		BaseURL:     baseURL,
		Token:       "tok",
		OrgSlug:     "acme",
		ProjectSlug: "widgets",
		CacheTTL:    ttl,
		StaleGrace:  time.Minute,
	})
	tracker := session.NewTracker(client, "main")
	client.SetObserver(tracker.Record)
	return client, tracker
}

func TestReadWriteLifecycle(t *testing.T) {
	f := newFakeAPI()
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	client, tracker := newRuntime(t, srv.URL, 40*time.Millisecond)
	ctx := context.Background()

	if _, err := client.StoreMemory(ctx, api.StoreRequest{Key: "arch/cache", Content: "use etags", Area: "arch"}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	m, err := client.GetMemory(ctx, "arch/cache")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if m.Content != "use etags" || client.LastFreshness() != memclient.FreshnessFresh {
		t.Errorf("first read = %q (%s), want live content", m.Content, client.LastFreshness())
	}
	netReads := f.getCount()

	if _, err := client.GetMemory(ctx, "arch/cache"); err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if f.getCount() != netReads || client.LastFreshness() != memclient.FreshnessCached {
		t.Errorf("second read hit the network (%s)", client.LastFreshness())
	}

	// Past the TTL the read revalidates: one more network GET, answered 304.
	time.Sleep(60 * time.Millisecond)
	if _, err := client.GetMemory(ctx, "arch/cache"); err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if f.getCount() != netReads+1 || client.LastFreshness() != memclient.FreshnessCached {
		t.Errorf("revalidation: gets=%d (was %d), freshness=%s", f.getCount(), netReads, client.LastFreshness())
	}

	// A write invalidates: the next read is live again.
	if _, err := client.StoreMemory(ctx, api.StoreRequest{Key: "arch/cache", Content: "v2", Area: "arch"}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	m, err = client.GetMemory(ctx, "arch/cache")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if m.Content != "v2" || client.LastFreshness() != memclient.FreshnessFresh {
		t.Errorf("post-write read = %q (%s), want fresh v2", m.Content, client.LastFreshness())
	}

	if got := tracker.Summary(); !strings.Contains(got, "arch/cache") {
		t.Errorf("session summary %q does not mention the touched key", got)
	}
}

func TestConflictDetectionAcrossClients(t *testing.T) {
	f := newFakeAPI()
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	clientA, _ := newRuntime(t, srv.URL, 0)
	clientB, _ := newRuntime(t, srv.URL, 0)
	ctx := context.Background()

	first, err := clientA.StoreMemory(ctx, api.StoreRequest{Key: "decisions/db", Content: "postgres"})
	if err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	// B edits behind A's back.
	time.Sleep(5 * time.Millisecond)
	if _, err := clientB.StoreMemory(ctx, api.StoreRequest{Key: "decisions/db", Content: "sqlite"}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}

	res, err := conflict.New(clientA).SafeStore(ctx, conflict.Request{
		Key:               "decisions/db",
		Content:           "mysql",
		IfUnmodifiedSince: first.UpdatedAt,
	})
	if err != nil {
		t.Fatalf("SafeStore: %v", err)
	}
	if !res.Conflict || res.Written {
		t.Fatalf("result = %+v, want rejected conflict", res)
	}
	if res.Theirs != "sqlite" || res.Ours != "mysql" {
		t.Errorf("versions = (%q, %q), want both sides reported", res.Ours, res.Theirs)
	}

	m, err := clientB.GetMemory(ctx, "decisions/db")
	if err != nil {
		t.Fatalf("GetMemory: %v", err)
	}
	if m.Content != "sqlite" {
		t.Errorf("remote content = %q, the rejected write must not land", m.Content)
	}
}

func TestStaleServeDuringOutage(t *testing.T) {
	f := newFakeAPI()
	srv := httptest.NewServer(f.handler())

	client, _ := newRuntime(t, srv.URL, 20*time.Millisecond)
	ctx := context.Background()

	if _, err := client.StoreMemory(ctx, api.StoreRequest{Key: "k", Content: "survives"}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	if _, err := client.GetMemory(ctx, "k"); err != nil {
		t.Fatalf("GetMemory: %v", err)
	}

	srv.Close()
	time.Sleep(40 * time.Millisecond)

	m, err := client.GetMemory(ctx, "k")
	if err != nil {
		t.Fatalf("GetMemory during outage: %v", err)
	}
	if m.Content != "survives" || client.LastFreshness() != memclient.FreshnessStale {
		t.Errorf("outage read = %q (%s), want stale cached content", m.Content, client.LastFreshness())
	}
	if client.ConnectionOK() {
		t.Error("ConnectionOK = true during outage")
	}
}

func TestSessionLogPersistedAndHandedOff(t *testing.T) {
	f := newFakeAPI()
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	client, tracker := newRuntime(t, srv.URL, 0)
	ctx := context.Background()

	if _, err := client.StoreMemory(ctx, api.StoreRequest{Key: "notes/a", Content: "x"}); err != nil {
		t.Fatalf("StoreMemory: %v", err)
	}
	tracker.RecordToolAction("memory.store")
	if err := tracker.End(ctx); err != nil {
		t.Fatalf("End: %v", err)
	}

	f.mu.Lock()
	lg, ok := f.logs[tracker.ID()]
	f.mu.Unlock()
	if !ok {
		t.Fatal("no session log persisted")
	}
	if lg.EndedAt == nil || !strings.Contains(lg.KeysWritten, "notes/a") {
		t.Errorf("log = %+v, want ended with notes/a written", lg)
	}

	// A new session sees the previous one as its handoff.
	_, tracker2 := newRuntime(t, srv.URL, 0)
	h := tracker2.DeriveHandoff(ctx)
	if h == nil || h.PreviousSessionID != tracker.ID() {
		t.Fatalf("handoff = %+v, want the ended session", h)
	}
	if len(h.KeysWritten) != 1 || h.KeysWritten[0] != "notes/a" {
		t.Errorf("handoff keys = %v, want [notes/a]", h.KeysWritten)
	}
}
