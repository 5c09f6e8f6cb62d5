// Package notify delivers reminder notifications to the endpoints this
// installation has registered, over web push.
package notify

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"go.uber.org/multierr"

	"github.com/dukerupert/daybook/internal/model"
	"github.com/dukerupert/daybook/internal/store"
)

// ErrExpired is returned when a push subscription is no longer valid (410 Gone).
var ErrExpired = errors.New("push subscription expired")

// Payload is the JSON sent to the push service.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag,omitempty"`
}

// PushService sends reminder notifications to every subscription stored
// for this installation. Expired subscriptions are pruned as they are
// discovered.
type PushService struct {
	subs       *store.PushStore
	publicKey  string
	privateKey string
	subscriber string
}

// NewPushService creates a push notifier with the installation's VAPID keys.
func NewPushService(subs *store.PushStore, publicKey, privateKey string) *PushService {
	return &PushService{
		subs:       subs,
		publicKey:  publicKey,
		privateKey: privateKey,
		subscriber: "mailto:noreply@daybook.app",
	}
}

// VAPIDPublicKey returns the public key for client-side subscription.
func (s *PushService) VAPIDPublicKey() string {
	return s.publicKey
}

// Notify sends the reminder to every registered endpoint. Expired
// endpoints are deleted; other delivery failures are combined and
// returned after all endpoints have been attempted.
func (s *PushService) Notify(title, body string) error {
	subs, err := s.subs.List()
	if err != nil {
		return fmt.Errorf("list subscriptions: %w", err)
	}

	var errs error
	for _, sub := range subs {
		if err := s.send(&sub, Payload{Title: title, Body: body, Tag: "reminder"}); err != nil {
			if errors.Is(err, ErrExpired) {
				if derr := s.subs.DeleteByEndpoint(sub.Endpoint); derr != nil {
					slog.Warn("prune expired subscription", "error", derr)
				}
				continue
			}
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (s *PushService) send(sub *model.PushSubscription, payload Payload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := webpush.SendNotification(data, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dhKey,
			Auth:   sub.AuthKey,
		},
	}, &webpush.Options{
		VAPIDPublicKey:  s.publicKey,
		VAPIDPrivateKey: s.privateKey,
		Subscriber:      s.subscriber,
		TTL:             86400,
	})
	if err != nil {
		return fmt.Errorf("send push: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusGone {
		return ErrExpired
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("push service returned %d", resp.StatusCode)
	}

	return nil
}

// GenerateVAPIDKeys generates a new ECDSA P-256 key pair for VAPID,
// returned URL-safe base64 encoded.
func GenerateVAPIDKeys() (publicKey, privateKey string, err error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}

	pubBytes := elliptic.Marshal(elliptic.P256(), key.PublicKey.X, key.PublicKey.Y)
	publicKey = base64.RawURLEncoding.EncodeToString(pubBytes)
	privateKey = base64.RawURLEncoding.EncodeToString(key.D.Bytes())

	return publicKey, privateKey, nil
}
