package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/daybook/internal/model"
)

// TokenSource provides the persisted session credentials and accepts a
// renewed access token. store.CredentialStore satisfies it; tests use
// an in-memory fake.
type TokenSource interface {
	Get() (*model.Credentials, error)
	SetAccessToken(token string, expiresAt time.Time) error
}

// refreshFunc renews an access token. It must go over a client that is
// not wrapped by authTransport, or a rejected refresh would recurse.
type refreshFunc func(ctx context.Context, refreshToken, userID string) (string, time.Time, error)

// authTransport attaches the API key and bearer token to every request
// and, on a 401, performs exactly one refresh-and-replay cycle:
//
//  1. refresh the access token through the unwrapped client
//  2. on success, persist the new token and resend the original request once
//  3. on failure, hand back the original 401 untouched
//
// There is no retry loop; the replayed response is returned whatever its
// status. By default concurrent 401s each trigger their own refresh,
// matching the service's tolerance for redundant refresh calls; coalesce
// collapses them into one in-flight refresh instead.
type authTransport struct {
	base     http.RoundTripper
	apiKey   string
	creds    TokenSource
	refresh  refreshFunc
	coalesce bool
	group    singleflight.Group
}

type refreshResult struct {
	token     string
	expiresAt time.Time
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	creds, err := t.creds.Get()
	if err != nil {
		return nil, err
	}

	resp, err := t.base.RoundTrip(t.withAuth(req, creds))
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if creds == nil || creds.RefreshToken == "" {
		return resp, nil
	}

	renewed, err := t.doRefresh(req.Context(), creds)
	if err != nil {
		slog.Debug("token refresh failed, returning original response", "error", err)
		return resp, nil
	}

	if err := t.creds.SetAccessToken(renewed.token, renewed.expiresAt); err != nil {
		slog.Warn("persist refreshed token", "error", err)
		return resp, nil
	}

	retry, err := t.rebuild(req, renewed.token)
	if err != nil {
		return resp, nil
	}

	resp.Body.Close()
	return t.base.RoundTrip(retry)
}

func (t *authTransport) doRefresh(ctx context.Context, creds *model.Credentials) (refreshResult, error) {
	if !t.coalesce {
		token, expiresAt, err := t.refresh(ctx, creds.RefreshToken, creds.UserID)
		return refreshResult{token: token, expiresAt: expiresAt}, err
	}

	v, err, _ := t.group.Do("refresh", func() (any, error) {
		token, expiresAt, err := t.refresh(ctx, creds.RefreshToken, creds.UserID)
		if err != nil {
			return nil, err
		}
		return refreshResult{token: token, expiresAt: expiresAt}, nil
	})
	if err != nil {
		return refreshResult{}, err
	}
	return v.(refreshResult), nil
}

// withAuth clones the request with auth headers; the caller's request is
// left untouched so it can be rebuilt for the replay.
func (t *authTransport) withAuth(req *http.Request, creds *model.Credentials) *http.Request {
	r := req.Clone(req.Context())
	r.Header.Set("X-API-Key", t.apiKey)
	if creds != nil && creds.AccessToken != "" {
		r.Header.Set("Authorization", "Bearer "+creds.AccessToken)
	}
	return r
}

// rebuild prepares the one replay of the original request with the
// renewed token. Requests with a body must carry GetBody, which
// http.NewRequestWithContext sets for the bodies the client sends.
func (t *authTransport) rebuild(req *http.Request, token string) (*http.Request, error) {
	r := req.Clone(req.Context())
	if req.Body != nil && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		r.Body = body
	}
	r.Header.Set("X-API-Key", t.apiKey)
	r.Header.Set("Authorization", "Bearer "+token)
	return r, nil
}
