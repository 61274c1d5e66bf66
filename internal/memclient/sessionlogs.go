package memclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/memctl/memctl-sub002/pkg/api"
)

// UpsertSessionLog creates or updates the session log for a session.
func (c *Client) UpsertSessionLog(ctx context.Context, req api.UpsertSessionLogRequest) error {
	return c.do(ctx, http.MethodPost, "/session-logs", req, nil)
}

// GetSessionLogs fetches the most recent session logs, newest first,
// optionally filtered by branch.
func (c *Client) GetSessionLogs(ctx context.Context, limit int, branch string) ([]api.SessionLog, error) {
	path := "/session-logs?limit=" + strconv.Itoa(limit)
	if branch != "" {
		path += "&branch=" + url.QueryEscape(branch)
	}
	body, err := c.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var res api.SessionLogsResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode session logs: %w", err)
	}
	return res.SessionLogs, nil
}
