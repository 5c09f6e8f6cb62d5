package sync

import (
	"context"
	"log/slog"
	"time"

	ws "github.com/coder/websocket"
)

const reconnectDelay = 10 * time.Second

// Trigger listens on the service's change-notification WebSocket and
// signals on C whenever the server announces that the remote state
// moved. The channel has one slot: notifications arriving while a sync
// is already pending collapse together.
type Trigger struct {
	C chan struct{}

	url string
}

// NewTrigger creates a trigger for the given ws:// or wss:// endpoint.
func NewTrigger(url string) *Trigger {
	return &Trigger{
		C:   make(chan struct{}, 1),
		url: url,
	}
}

// Run maintains the connection until the context is cancelled,
// reconnecting with a flat delay after any failure.
func (t *Trigger) Run(ctx context.Context) {
	for {
		if err := t.listen(ctx); err != nil && ctx.Err() == nil {
			slog.Debug("sync trigger disconnected", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectDelay):
		}
	}
}

// listen reads and discards message payloads; any frame from the server
// means "something changed, sync when you can".
func (t *Trigger) listen(ctx context.Context) error {
	conn, _, err := ws.Dial(ctx, t.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close(ws.StatusNormalClosure, "")

	for {
		if _, _, err := conn.Read(ctx); err != nil {
			return err
		}
		select {
		case t.C <- struct{}{}:
		default:
		}
	}
}
