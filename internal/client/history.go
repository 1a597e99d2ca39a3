package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Tyrowin/roomrelay/internal/protocol"
)

// ErrHistoryForbidden is returned when the token's user is not a member of
// the requested room.
var ErrHistoryForbidden = errors.New("client: not a member of this room")

type historyPage struct {
	RoomID   int64                  `json:"roomId"`
	Messages []protocol.ChatMessage `json:"messages"`
}

type historyError struct {
	Error string `json:"error"`
}

// FetchHistory loads the latest messages of roomID from the relay's HTTP
// endpoint at baseURL (for example http://localhost:3001). A limit of zero
// uses the server default.
func FetchHistory(ctx context.Context, httpClient *http.Client, baseURL, token string, roomID int64, limit int) ([]protocol.ChatMessage, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	u, err := url.JoinPath(baseURL, "rooms", strconv.FormatInt(roomID, 10), "messages")
	if err != nil {
		return nil, fmt.Errorf("build history url: %w", err)
	}
	if limit > 0 {
		u += "?limit=" + strconv.Itoa(limit)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusForbidden:
		return nil, ErrHistoryForbidden
	default:
		var body historyError
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, fmt.Errorf("fetch history: status %d: %s", resp.StatusCode, body.Error)
	}

	var page historyPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	return page.Messages, nil
}

// Backfill fetches roomID's history and merges it into the message log. It
// returns the messages that were not already known, oldest first.
func (c *Client) Backfill(ctx context.Context, httpClient *http.Client, baseURL, token string, roomID int64) ([]protocol.ChatMessage, error) {
	messages, err := FetchHistory(ctx, httpClient, baseURL, token, roomID, 0)
	if err != nil {
		return nil, err
	}

	var added []protocol.ChatMessage
	for _, m := range messages {
		if c.log.Add(roomID, m) {
			added = append(added, m)
		}
	}
	return added, nil
}
