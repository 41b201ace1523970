package coordinator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPClient implements API against the seat-hold HTTP server.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	token   string
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient replaces the default client. It must not set a timeout
// when used for Stream.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *HTTPClient) { c.http = hc } }

// WithToken sends a session token as a Bearer credential.
func WithToken(token string) ClientOption { return func(c *HTTPClient) { c.token = token } }

// NewHTTPClient returns a client for the server at baseURL.
func NewHTTPClient(baseURL string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{baseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{}}
	for _, o := range opts {
		o(c)
	}
	return c
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server answered %d", e.Code)
	}
	return fmt.Sprintf("server answered %d: %s", e.Code, e.Message)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in any, out any, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(buf)
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	expected := false
	for _, code := range accept {
		expected = expected || resp.StatusCode == code
	}
	if !expected {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

// Session is an anonymous session issued by the server.
type Session struct {
	SessionID string    `json:"sessionId"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// CreateSession asks the server for a new session and uses its token for
// every later request.
func (c *HTTPClient) CreateSession(ctx context.Context) (*Session, error) {
	var s Session
	if _, err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, &s, http.StatusCreated); err != nil {
		return nil, err
	}
	c.token = s.Token
	return &s, nil
}

// Layout fetches a screening's seat map.
func (c *HTTPClient) Layout(ctx context.Context, screeningID uint64) (*Layout, error) {
	var l Layout
	if _, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v1/screenings/%d/layout", screeningID), nil, &l, http.StatusOK); err != nil {
		return nil, err
	}
	return &l, nil
}

// Hold sends a hold, extend or release request.
func (c *HTTPClient) Hold(ctx context.Context, screeningID, seatID uint64, action, sessionID string) (HoldReply, error) {
	var r HoldReply
	body := map[string]string{"action": action, "sessionId": sessionID}
	path := fmt.Sprintf("/v1/screenings/%d/seats/%d/hold", screeningID, seatID)
	_, err := c.do(ctx, http.MethodPost, path, body, &r, http.StatusOK)
	return r, err
}

// Book submits a booking. A 409 is returned as an outcome listing the
// taken seats.
func (c *HTTPClient) Book(ctx context.Context, req BookingRequest) (*BookingOutcome, error) {
	var raw struct {
		BookingID    uint64   `json:"booking_id"`
		Confirmation string   `json:"booking_confirmation"`
		TotalPrice   uint32   `json:"total_price"`
		Taken        []uint64 `json:"taken"`
	}
	code, err := c.do(ctx, http.MethodPost, "/v1/makeBooking", req, &raw, http.StatusCreated, http.StatusConflict)
	if err != nil {
		return nil, err
	}
	if code == http.StatusConflict {
		return &BookingOutcome{Conflicts: raw.Taken}, nil
	}
	return &BookingOutcome{
		OK:           true,
		BookingID:    raw.BookingID,
		Confirmation: raw.Confirmation,
		TotalPrice:   raw.TotalPrice,
	}, nil
}
