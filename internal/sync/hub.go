package sync

import (
	"log"
	"sync"
)

const subscriptionBuffer = 64

// Hub fans change events out to the subscriptions of the event's user.
type Hub struct {
	mu     sync.Mutex
	subs   map[string]map[*Subscription]struct{}
	tcp    int
	ws     int
	logger *log.Logger
}

type Stats struct {
	TCPClients    int `json:"tcp_clients"`
	WSClients     int `json:"ws_clients"`
	Subscriptions int `json:"subscriptions"`
}

func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Subscription is a client in the Subscribed state. Closing it returns the
// client to Disconnected; Close may be called any number of times.
type Subscription struct {
	UserID string

	hub    *Hub
	ch     chan ChangeEvent
	closed bool
}

// Events is closed when the subscription ends.
func (s *Subscription) Events() <-chan ChangeEvent { return s.ch }

func (s *Subscription) Close() {
	s.hub.remove(s)
}

func (h *Hub) Subscribe(userID string) *Subscription {
	s := &Subscription{UserID: userID, hub: h, ch: make(chan ChangeEvent, subscriptionBuffer)}
	h.mu.Lock()
	set, ok := h.subs[userID]
	if !ok {
		set = make(map[*Subscription]struct{})
		h.subs[userID] = set
	}
	set[s] = struct{}{}
	h.mu.Unlock()
	return s
}

func (h *Hub) remove(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(s)
}

func (h *Hub) removeLocked(s *Subscription) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	if set, ok := h.subs[s.UserID]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.UserID)
		}
	}
}

// Publish never blocks: a subscriber whose buffer is full is dropped and
// must resubscribe and re-read the aggregate.
func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for s := range h.subs[ev.UserID] {
		select {
		case s.ch <- ev:
		default:
			h.logger.Printf("[sync] subscriber for user %s is not draining, dropping it", s.UserID)
			h.removeLocked(s)
		}
	}
}

func (h *Hub) track(transport string, delta int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	switch transport {
	case "tcp":
		h.tcp += delta
	case "websocket":
		h.ws += delta
	}
}

func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, set := range h.subs {
		n += len(set)
	}
	return Stats{TCPClients: h.tcp, WSClients: h.ws, Subscriptions: n}
}
