// Package roomapi is the client for the hub's REST collaborator endpoints:
// room-password verification before any socket work, and the account room
// history used as a fire-and-forget persistence hint.
package roomapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type verifyRequest struct {
	RoomID   string `json:"room_id"`
	Password string `json:"password"`
}

type verifyResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// VerifyRoom pre-checks the room password against the hub before opening a
// transport. A nil return means the password is accepted (or the room is new
// and this password will set it). A wrong password yields a
// *VerificationError carrying the server's reason.
func (c *Client) VerifyRoom(ctx context.Context, roomID, password string) error {
	var resp verifyResponse
	if err := c.postJSON(ctx, "/api/verify-room", verifyRequest{RoomID: roomID, Password: password}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		reason := resp.Message
		if reason == "" {
			reason = "room verification refused"
		}
		return &VerificationError{Reason: reason}
	}
	return nil
}

type saveRequest struct {
	UserID string `json:"user_id"`
	RoomID string `json:"room_id"`
}

// SaveRoom records the room in the account's history. Callers treat it as
// fire-and-forget; a failure never affects the session.
func (c *Client) SaveRoom(ctx context.Context, userID, roomID string) error {
	return c.postJSON(ctx, "/api/save-room", saveRequest{UserID: userID, RoomID: roomID}, nil)
}

type historyResponse struct {
	Rooms []string `json:"rooms"`
}

// History lists rooms previously saved for the account. UI convenience only;
// the session engine never consumes it.
func (c *Client) History(ctx context.Context, userID string) ([]string, error) {
	endpoint := c.BaseURL + "/api/history?user_id=" + url.QueryEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("history: unexpected status %d", res.StatusCode)
	}
	var out historyResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Rooms, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: unexpected status %d", path, res.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}
