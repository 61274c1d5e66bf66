package api

import "time"

// Memory is a single record in the remote memory store.
type Memory struct {
	Key       string    `json:"key"`
	Content   string    `json:"content"`
	Area      string    `json:"area,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty"`
}

// MemoryListResponse is the response for GET /memories.
type MemoryListResponse struct {
	Memories []Memory `json:"memories"`
	Total    int      `json:"total"`
}

// SearchResponse is the response for GET /memories/search.
type SearchResponse struct {
	Results []Memory `json:"results"`
}

// StoreRequest is the body for POST /memories.
type StoreRequest struct {
	Key     string `json:"key"`
	Content string `json:"content"`
	Area    string `json:"area,omitempty"`
}

// SessionLog is a persisted session activity record. The key and tool
// lists are JSON-encoded strings, exactly as the API returns them.
type SessionLog struct {
	SessionID   string     `json:"sessionId"`
	Branch      string     `json:"branch,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	KeysRead    string     `json:"keysRead,omitempty"`
	KeysWritten string     `json:"keysWritten,omitempty"`
	ToolsUsed   string     `json:"toolsUsed,omitempty"`
	StartedAt   time.Time  `json:"startedAt"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// UpsertSessionLogRequest is the body for POST /session-logs.
type UpsertSessionLogRequest struct {
	SessionID   string     `json:"sessionId"`
	Branch      string     `json:"branch,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	KeysRead    []string   `json:"keysRead,omitempty"`
	KeysWritten []string   `json:"keysWritten,omitempty"`
	ToolsUsed   []string   `json:"toolsUsed,omitempty"`
	EndedAt     *time.Time `json:"endedAt,omitempty"`
}

// SessionLogsResponse is the response for GET /session-logs.
type SessionLogsResponse struct {
	SessionLogs []SessionLog `json:"sessionLogs"`
}

// ErrorResponse is the JSON error body returned on 4xx/5xx.
type ErrorResponse struct {
	Error string `json:"error"`
}
