// Package api is the HTTP client for the daybook service: snapshot pull,
// tombstone batch delete and session token refresh, with transparent
// token renewal on every guarded call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dukerupert/daybook/internal/model"
)

// Client talks to the daybook service. All calls except RefreshToken go
// through the auth transport, which attaches credentials and renews an
// expired access token in place.
type Client struct {
	baseURL string
	http    *http.Client
	bare    *http.Client
}

// Option configures a Client.
type Option func(*clientConfig)

type clientConfig struct {
	timeout  time.Duration
	base     http.RoundTripper
	coalesce bool
}

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		c.timeout = d
	}
}

// WithBaseTransport swaps the underlying round tripper, for tests.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *clientConfig) {
		c.base = rt
	}
}

// WithCoalescedRefresh collapses concurrent token refreshes into a
// single in-flight call. Off by default: the stock behavior lets each
// failing request refresh independently.
func WithCoalescedRefresh() Option {
	return func(c *clientConfig) {
		c.coalesce = true
	}
}

// NewClient builds a client for the service at baseURL. creds is the
// persisted credential record; apiKey is the static installation key.
func NewClient(baseURL, apiKey string, creds TokenSource, opts ...Option) *Client {
	cfg := clientConfig{
		timeout: 30 * time.Second,
		base:    http.DefaultTransport,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		bare:    &http.Client{Timeout: cfg.timeout, Transport: cfg.base},
	}
	c.http = &http.Client{
		Timeout: cfg.timeout,
		Transport: &authTransport{
			base:     cfg.base,
			apiKey:   apiKey,
			creds:    creds,
			refresh:  c.RefreshToken,
			coalesce: cfg.coalesce,
		},
	}
	return c
}

// Snapshot is the full authoritative item set held by the service.
type Snapshot struct {
	Tasks     []model.AgendaItem `json:"tasks"`
	Events    []model.AgendaItem `json:"events"`
	Reminders []model.AgendaItem `json:"reminders"`
}

// Items flattens the snapshot with each item's kind filled in.
func (s *Snapshot) Items() []model.AgendaItem {
	items := make([]model.AgendaItem, 0, len(s.Tasks)+len(s.Events)+len(s.Reminders))
	for _, it := range s.Tasks {
		it.Kind = model.KindTask
		items = append(items, it)
	}
	for _, it := range s.Events {
		it.Kind = model.KindEvent
		items = append(items, it)
	}
	for _, it := range s.Reminders {
		it.Kind = model.KindReminder
		items = append(items, it)
	}
	return items
}

// Snapshot fetches the remote snapshot of all items of all kinds.
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/agenda/snapshot", nil)
	if err != nil {
		return nil, fmt.Errorf("create snapshot request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("snapshot: %w", statusError(resp.StatusCode))
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// BatchDeleteRequest carries the pending tombstone ids per kind.
type BatchDeleteRequest struct {
	DeletedTaskIDs     []string `json:"deletedTaskIds"`
	DeletedEventIDs    []string `json:"deletedEventIds"`
	DeletedReminderIDs []string `json:"deletedReminderIds"`
}

// Empty reports whether there is nothing to delete.
func (r BatchDeleteRequest) Empty() bool {
	return len(r.DeletedTaskIDs) == 0 && len(r.DeletedEventIDs) == 0 && len(r.DeletedReminderIDs) == 0
}

// BatchDelete asks the service to delete the given items. A nil return
// means the service acknowledged every id in the request.
func (c *Client) BatchDelete(ctx context.Context, del BatchDeleteRequest) error {
	body, err := json.Marshal(del)
	if err != nil {
		return fmt.Errorf("marshal batch delete: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/agenda/batch-delete", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create batch delete request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("batch delete: %w", statusError(resp.StatusCode))
	}
	return nil
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
	UserID       string `json:"userId"`
}

type refreshResponse struct {
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// RefreshToken exchanges the long-lived refresh token for a new access
// token. It goes over the bare client: the refresh endpoint must never
// be wrapped by the guard that calls it.
func (c *Client) RefreshToken(ctx context.Context, refreshToken, userID string) (string, time.Time, error) {
	body, err := json.Marshal(refreshRequest{RefreshToken: refreshToken, UserID: userID})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("marshal refresh: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/auth/refresh", bytes.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.bare.Do(req)
	if err != nil {
		return "", time.Time{}, transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("refresh token: %w", statusError(resp.StatusCode))
	}

	var rr refreshResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return "", time.Time{}, fmt.Errorf("decode refresh response: %w", err)
	}
	return rr.AccessToken, rr.ExpiresAt, nil
}
