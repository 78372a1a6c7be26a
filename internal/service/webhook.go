package service

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"gowa-dispatch/internal/ws"
)

const SignatureHeader = "X-Dispatch-Signature"

// DefaultWebhookEvents are forwarded when no explicit list is configured.
var DefaultWebhookEvents = []ws.EventType{
	ws.EventSessionStatusChanged,
	ws.EventLocationReceived,
	ws.EventJobFinished,
}

// WebhookPublisher posts realtime events to an external URL. It satisfies
// ws.RealtimePublisher so it can sit next to the hub in a ws.Fanout.
type WebhookPublisher struct {
	url    string
	secret string
	events map[ws.EventType]bool
	client *http.Client
	wg     sync.WaitGroup
}

func NewWebhookPublisher(url, secret string, events []ws.EventType, timeout time.Duration) *WebhookPublisher {
	if len(events) == 0 {
		events = DefaultWebhookEvents
	}
	allowed := make(map[ws.EventType]bool, len(events))
	for _, e := range events {
		allowed[e] = true
	}
	return &WebhookPublisher{
		url:    url,
		secret: secret,
		events: allowed,
		client: &http.Client{Timeout: timeout},
	}
}

func (w *WebhookPublisher) Publish(event ws.WsEvent) {
	if !w.events[event.Event] {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", string(event.Event)).Msg("webhook: marshal error")
		return
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.send(context.Background(), body); err != nil {
			log.Warn().Err(err).Str("event", string(event.Event)).Msg("webhook: send failed")
		}
	}()
}

func (w *WebhookPublisher) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	// signature hanya dikirim kalau secret di-set
	if w.secret != "" {
		req.Header.Set(SignatureHeader, Sign(w.secret, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (w *WebhookPublisher) Wait(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
