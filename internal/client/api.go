package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tutorcall/internal/model"
)

// APIError is a non-2xx answer from the call API
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Message)
}

// API talks to the room access endpoints with the participant's bearer JWT
type API struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewAPI creates an API client. baseURL is the server root, e.g. http://localhost:8080
func NewAPI(baseURL, token string) *API {
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// EnsureRoom creates or fetches the room of a session
func (a *API) EnsureRoom(ctx context.Context, sessionID string) (*model.RoomRef, error) {
	var ref model.RoomRef
	if err := a.do(ctx, http.MethodPost, "/v1/sessions/"+sessionID+"/room", nil, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Join admits the caller and returns its signaling access token
func (a *API) Join(ctx context.Context, roomID string, userType model.UserType) (*model.JoinResponse, error) {
	body := map[string]string{"userType": string(userType)}
	var resp model.JoinResponse
	if err := a.do(ctx, http.MethodPost, "/v1/rooms/"+roomID+"/join", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status reads the room status
func (a *API) Status(ctx context.Context, roomID string) (*model.RoomStatus, error) {
	var status model.RoomStatus
	if err := a.do(ctx, http.MethodGet, "/v1/rooms/"+roomID+"/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// EndCall forces the terminal transition
func (a *API) EndCall(ctx context.Context, roomID, sessionID string) (*model.CallState, error) {
	body := map[string]string{"sessionId": sessionID}
	var state model.CallState
	if err := a.do(ctx, http.MethodPost, "/v1/rooms/"+roomID+"/end", body, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// WebSocketURL derives the signaling endpoint from the API base url
func (a *API) WebSocketURL() string {
	u := a.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/v1/ws"
}

func (a *API) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+a.token)

	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(respBody))
		if json.Unmarshal(respBody, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Status: resp.StatusCode, Message: msg}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
