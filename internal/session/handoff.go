package session

import (
	"context"
	"log"

	"github.com/tidwall/gjson"

	"github.com/memctl/memctl-sub002/pkg/api"
)

// DeriveHandoff fetches recent session logs, attaches the most recent
// other session as this session's handoff, and sweeps up stale sessions:
// any other log still open after more than two hours is force-closed with
// a synthetic summary, so crashed processes do not accumulate open
// sessions forever.
//
// Derivation happens once per process; repeated calls return the first
// result. All failures are logged and degrade to a nil handoff — startup
// must not depend on the network.
func (t *Tracker) DeriveHandoff(ctx context.Context) *Handoff {
	t.handoffOnce.Do(func() {
		logs, err := t.sink.GetSessionLogs(ctx, handoffFetchLimit, "")
		if err != nil {
			log.Printf("[session] handoff fetch failed: %v", err)
			return
		}

		var h *Handoff
		for _, lg := range logs {
			if lg.SessionID == t.ID() {
				continue
			}
			if h == nil {
				h = &Handoff{
					PreviousSessionID: lg.SessionID,
					Summary:           lg.Summary,
					Branch:            lg.Branch,
					KeysWritten:       parseKeyList(lg.KeysWritten),
					EndedAt:           lg.EndedAt,
				}
			}
			// Stale sweep. One bad log must not abort the rest.
			if lg.EndedAt == nil && t.now().Sub(lg.StartedAt) > staleSessionAge {
				if err := t.forceClose(ctx, lg.SessionID, lg.Branch); err != nil {
					log.Printf("[session] sweep: closing %s failed: %v", lg.SessionID, err)
					continue
				}
				log.Printf("[session] sweep: closed stale session %s", lg.SessionID)
			}
		}

		t.mu.Lock()
		t.handoff = h
		t.mu.Unlock()
	})
	return t.Handoff()
}

func (t *Tracker) forceClose(ctx context.Context, sessionID, branch string) error {
	endedAt := t.now()
	return t.sink.UpsertSessionLog(ctx, api.UpsertSessionLogRequest{
		SessionID: sessionID,
		Branch:    branch,
		Summary:   "auto-closed: session left open for more than 2 hours (process likely crashed)",
		EndedAt:   &endedAt,
	})
}

// parseKeyList decodes a JSON-encoded string list leniently: anything that
// is not an array yields nil rather than an error — old logs may carry
// malformed fields.
func parseKeyList(encoded string) []string {
	v := gjson.Parse(encoded)
	if !v.IsArray() {
		return nil
	}
	var keys []string
	for _, e := range v.Array() {
		if s := e.String(); s != "" {
			keys = append(keys, s)
		}
	}
	return keys
}
