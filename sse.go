package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	sseChannelBuffer = 16
	sseHeartbeat     = 30 * time.Second
)

// subscriber is one SSE connection following an order.
type subscriber struct {
	ch      chan string
	orderID string
}

// Broadcaster fans order events out to SSE subscribers.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers interest in an order's events.
func (b *Broadcaster) Subscribe(orderID string) *subscriber {
	s := &subscriber{
		ch:      make(chan string, sseChannelBuffer),
		orderID: orderID,
	}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes s and closes its channel. Safe to call twice.
func (b *Broadcaster) Unsubscribe(s *subscriber) {
	b.mu.Lock()
	if _, ok := b.subs[s]; ok {
		delete(b.subs, s)
		close(s.ch)
	}
	b.mu.Unlock()
}

// Publish sends evt, encoded as JSON, to every subscriber of the order.
// Slow subscribers whose buffer is full miss the event.
func (b *Broadcaster) Publish(orderID string, evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		if s.orderID != orderID {
			continue
		}
		select {
		case s.ch <- string(data):
		default:
		}
	}
}

// Subscribers returns the number of connections following an order.
func (b *Broadcaster) Subscribers(orderID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for s := range b.subs {
		if s.orderID == orderID {
			n++
		}
	}
	return n
}

// orderEvent is the payload streamed to order followers.
type orderEvent struct {
	Type  string `json:"type"`
	Order *Order `json:"order"`
}

// ServeSSE streams an order's events until the client goes away. initial is
// sent first so a new follower sees the current state.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, orderID string, initial any) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s := b.Subscribe(orderID)
	defer b.Unsubscribe(s)

	if initial != nil {
		if data, err := json.Marshal(initial); err == nil {
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-s.ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
