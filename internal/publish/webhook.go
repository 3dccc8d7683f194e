package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/banshee-data/laserscan/internal/httputil"
	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/scanner"
)

const webhookTimeout = 5 * time.Second

// Webhook POSTs a SessionMessage to a URL when a scan starts or finishes.
// Deliveries run in the background so a slow endpoint never holds up the
// scanner; Close waits for the ones in flight.
type Webhook struct {
	url    string
	client httputil.HTTPClient

	wg     sync.WaitGroup
	mu     sync.Mutex
	failed int
}

// NewWebhook returns a notifier for url. A nil client uses a plain
// *http.Client with a five second timeout.
func NewWebhook(url string, client httputil.HTTPClient) *Webhook {
	if client == nil {
		client = httputil.NewClient(webhookTimeout)
	}
	return &Webhook{url: url, client: client}
}

func (w *Webhook) OnStart(s scanner.Session) {
	w.post(SessionMessage{Session: s.ID, State: "running", Unixtime: s.Started.Unix()})
}

func (w *Webhook) OnStop(s scanner.Session) {
	msg := SessionMessage{Session: s.ID, State: "stopped", Points: s.Points, Theta: s.Theta, Unixtime: s.Finished.Unix()}
	if s.Err != nil {
		msg.Error = s.Err.Error()
	}
	w.post(msg)
}

// Failed returns the number of deliveries that did not get a 2xx reply.
func (w *Webhook) Failed() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.failed
}

// Close waits for pending deliveries.
func (w *Webhook) Close() {
	w.wg.Wait()
}

func (w *Webhook) post(msg SessionMessage) {
	payload, err := json.Marshal(msg)
	if err != nil {
		monitoring.Logf("webhook: marshaling session: %v", err)
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.send(payload); err != nil {
			w.mu.Lock()
			w.failed++
			w.mu.Unlock()
			monitoring.Logf("webhook: session %s %s: %v", msg.Session, msg.State, err)
		}
	}()
}

func (w *Webhook) send(payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
