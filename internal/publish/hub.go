// Package publish delivers processed scan batches to live consumers.
//
// The Hub is the single reader of a scanner's result queue. Each result is
// handed to every registered Sink in order (database recorder, MQTT) and
// then offered to live subscribers such as SSE streams. A slow subscriber
// loses batches; it never stalls the hub or the scan.
package publish

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/laserscan/internal/monitoring"
	"github.com/banshee-data/laserscan/internal/scanner"
)

// subscriberBuffer is the per-subscriber queue length.
const subscriberBuffer = 64

// Sink consumes every result in order.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r scanner.Result) error
}

// Hub fans results out to sinks and subscribers.
type Hub struct {
	src   <-chan scanner.Result
	sinks []Sink

	mu   sync.Mutex
	subs map[chan scanner.Result]struct{}

	delivered atomic.Uint64
	failures  atomic.Uint64
	skipped   atomic.Uint64
}

// NewHub returns a hub draining src.
func NewHub(src <-chan scanner.Result, sinks ...Sink) *Hub {
	return &Hub{
		src:   src,
		sinks: sinks,
		subs:  make(map[chan scanner.Result]struct{}),
	}
}

// Run drains the source until ctx is cancelled, then dispatches whatever is
// still buffered. It closes all subscriber channels on return.
func (h *Hub) Run(ctx context.Context) error {
	defer h.closeSubscribers()
	for {
		select {
		case <-ctx.Done():
			h.flush()
			return ctx.Err()
		case r := <-h.src:
			h.dispatch(ctx, r)
		}
	}
}

func (h *Hub) flush() {
	for {
		select {
		case r := <-h.src:
			h.dispatch(context.Background(), r)
		default:
			return
		}
	}
}

func (h *Hub) dispatch(ctx context.Context, r scanner.Result) {
	for _, s := range h.sinks {
		if err := s.Publish(ctx, r); err != nil {
			if h.failures.Add(1)%100 == 1 {
				monitoring.Logf("publish: sink %s failed on batch %d: %v", s.Name(), r.Seq, err)
			}
		}
	}

	h.mu.Lock()
	for ch := range h.subs {
		select {
		case ch <- r:
		default:
			h.skipped.Add(1)
		}
	}
	h.mu.Unlock()
	h.delivered.Add(1)
}

// Subscribe registers a live subscriber. The returned cancel function
// unregisters it and closes the channel.
func (h *Hub) Subscribe() (<-chan scanner.Result, func()) {
	ch := make(chan scanner.Result, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
		})
	}
}

func (h *Hub) closeSubscribers() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

// Stats counts hub activity since creation.
type Stats struct {
	Delivered    uint64 `json:"delivered"`
	SinkFailures uint64 `json:"sink_failures"`
	Skipped      uint64 `json:"subscriber_skipped"`
	Subscribers  int    `json:"subscribers"`
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	return Stats{
		Delivered:    h.delivered.Load(),
		SinkFailures: h.failures.Load(),
		Skipped:      h.skipped.Load(),
		Subscribers:  n,
	}
}

// SessionObserver is notified when scans start and stop.
type SessionObserver interface {
	OnStart(scanner.Session)
	OnStop(scanner.Session)
}

// SessionHooks combines observers into the callbacks scanner.Options takes.
// Observers are called in order.
func SessionHooks(obs ...SessionObserver) (onStart, onStop func(scanner.Session)) {
	onStart = func(s scanner.Session) {
		for _, o := range obs {
			o.OnStart(s)
		}
	}
	onStop = func(s scanner.Session) {
		for _, o := range obs {
			o.OnStop(s)
		}
	}
	return onStart, onStop
}
