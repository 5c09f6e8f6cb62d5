package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/daybook/internal/model"
)

func TestSnapshotFillsKinds(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-Key") != "test-api-key" {
			t.Errorf("missing api key header")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"tasks":     []map[string]any{{"id": "t1", "title": "Pack bags", "is_done": true}},
			"events":    []map[string]any{{"id": "e1", "title": "Flight", "host": "carol"}},
			"reminders": []map[string]any{{"id": "r1", "title": "Passport"}},
		})
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "test-api-key", &fakeTokens{creds: &model.Credentials{AccessToken: "tok"}})
	snap, err := c.Snapshot(t.Context())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	items := snap.Items()
	if len(items) != 3 {
		t.Fatalf("item count = %d, want 3", len(items))
	}
	kinds := map[string]model.Kind{}
	for _, it := range items {
		kinds[it.ID] = it.Kind
	}
	if kinds["t1"] != model.KindTask || kinds["e1"] != model.KindEvent || kinds["r1"] != model.KindReminder {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestBatchDeleteWireFormat(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "k", &fakeTokens{creds: &model.Credentials{AccessToken: "tok"}})
	err := c.BatchDelete(t.Context(), BatchDeleteRequest{
		DeletedTaskIDs:     []string{"t1"},
		DeletedReminderIDs: []string{"r1"},
	})
	if err != nil {
		t.Fatalf("batch delete: %v", err)
	}

	if _, ok := got["deletedTaskIds"]; !ok {
		t.Errorf("request body missing deletedTaskIds: %v", got)
	}
	if _, ok := got["deletedReminderIds"]; !ok {
		t.Errorf("request body missing deletedReminderIds: %v", got)
	}
}

func TestStatusClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrAuthentication},
		{http.StatusForbidden, ErrAuthentication},
		{http.StatusNotFound, ErrNotFound},
		{http.StatusInternalServerError, ErrServer},
		{http.StatusBadRequest, ErrServer},
	}
	for _, tc := range cases {
		if err := statusError(tc.status); !errors.Is(err, tc.want) {
			t.Errorf("statusError(%d) = %v, want %v", tc.status, err, tc.want)
		}
	}
}

func TestServerErrorSurfacesAsErrServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "k", &fakeTokens{creds: &model.Credentials{AccessToken: "tok"}})
	_, err := c.Snapshot(t.Context())
	if !errors.Is(err, ErrServer) {
		t.Fatalf("err = %v, want ErrServer", err)
	}
	if !Retryable(err) {
		t.Error("server errors should be retryable")
	}
}

func TestUnreachableServiceIsNetworkError(t *testing.T) {
	// A server that is already closed refuses connections.
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	c := NewClient(url, "k", &fakeTokens{creds: &model.Credentials{AccessToken: "tok"}})
	_, err := c.Snapshot(t.Context())
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("err = %v, want ErrNetwork", err)
	}
	if !Retryable(err) {
		t.Error("network errors should be retryable")
	}
}

func TestCancellationIsNotRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	c := NewClient(server.URL, "k", &fakeTokens{creds: &model.Credentials{AccessToken: "tok"}})
	_, err := c.Snapshot(ctx)
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled to pass through", err)
	}
	if Retryable(err) {
		t.Error("cancellation must not be classified as retryable")
	}
}

func TestRefreshTokenDecodesResponse(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		json.NewDecoder(r.Body).Decode(&req)
		if req["refreshToken"] != "long-lived" || req["userId"] != "u1" {
			t.Errorf("refresh request = %v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{"accessToken": "fresh", "expiresAt": expires})
	}))
	t.Cleanup(server.Close)

	c := NewClient(server.URL, "k", &fakeTokens{})
	token, exp, err := c.RefreshToken(t.Context(), "long-lived", "u1")
	if err != nil {
		t.Fatalf("refresh token: %v", err)
	}
	if token != "fresh" {
		t.Errorf("token = %q, want fresh", token)
	}
	if !exp.Equal(expires) {
		t.Errorf("expiry = %v, want %v", exp, expires)
	}
}
