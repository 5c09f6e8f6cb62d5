package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Remote call failures fall into one of these classes. Callers branch
// with errors.Is; the sync loop retries ErrNetwork and ErrServer, gives
// up on ErrAuthentication, and treats context cancellation as neither.
var (
	ErrNetwork        = errors.New("service unreachable")
	ErrServer         = errors.New("service error")
	ErrAuthentication = errors.New("authentication rejected")
	ErrNotFound       = errors.New("not found")
)

// statusError maps a non-2xx response code onto the taxonomy.
func statusError(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrAuthentication, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: status %d", ErrNotFound, code)
	default:
		return fmt.Errorf("%w: status %d", ErrServer, code)
	}
}

// transportError wraps a failed round trip. Cancellation passes through
// untouched so it is never mistaken for a retryable network failure.
func transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

// Retryable reports whether the error is worth retrying on a later
// sync cycle trigger. Cancellation and auth failures are not.
func Retryable(err error) bool {
	return errors.Is(err, ErrNetwork) || errors.Is(err, ErrServer)
}
