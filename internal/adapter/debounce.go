package adapter

import (
	"sort"
	"sync"
	"time"

	"mangasync/pkg/models"
	"mangasync/pkg/ttlstore"
)

// Coalescer holds the newest event per key until no new signal for that key
// arrived for Quiet. Continuous scrolling therefore yields one event.
type Coalescer struct {
	Quiet time.Duration
	Now   func() time.Time

	mu      sync.Mutex
	pending map[string]pendingEvent
}

type pendingEvent struct {
	ev   models.ProgressEvent
	last time.Time
}

func NewCoalescer(quiet time.Duration) *Coalescer {
	return &Coalescer{Quiet: quiet, Now: time.Now, pending: make(map[string]pendingEvent)}
}

// Offer replaces whatever was pending for key and restarts its quiet window.
func (c *Coalescer) Offer(key string, ev models.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[key] = pendingEvent{ev: ev, last: c.Now()}
}

// Requeue puts ev back unless a newer signal for key arrived meanwhile.
func (c *Coalescer) Requeue(key string, ev models.ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[key]; ok {
		return
	}
	c.pending[key] = pendingEvent{ev: ev, last: c.Now()}
}

// Due removes and returns the events whose quiet window elapsed, ordered by
// key.
func (c *Coalescer) Due() []models.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.Now()

	keys := make([]string, 0, len(c.pending))
	for k, p := range c.pending {
		if now.Sub(p.last) >= c.Quiet {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := make([]models.ProgressEvent, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.pending[k].ev)
		delete(c.pending, k)
	}
	return out
}

// Flush removes and returns everything pending regardless of the window.
func (c *Coalescer) Flush() []models.ProgressEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.pending))
	for k := range c.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]models.ProgressEvent, 0, len(keys))
	for _, k := range keys {
		out = append(out, c.pending[k].ev)
	}
	clear(c.pending)
	return out
}

func (c *Coalescer) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Throttle enforces a minimum interval between sends per (user, series).
type Throttle struct {
	Interval time.Duration
	Now      func() time.Time

	sent ttlstore.Store[time.Time]
}

func NewThrottle(interval time.Duration) *Throttle {
	ttl := interval
	if ttl <= 0 {
		ttl = time.Millisecond
	}
	return &Throttle{Interval: interval, Now: time.Now, sent: ttlstore.New[time.Time](10_000, ttl)}
}

// Allow reports whether a send may happen now and, if so, records it.
func (t *Throttle) Allow(userID, seriesKey string) bool {
	if !t.Ready(userID, seriesKey) {
		return false
	}
	t.Record(userID, seriesKey)
	return true
}

// Ready reports whether a send may happen now without recording one.
func (t *Throttle) Ready(userID, seriesKey string) bool {
	return t.Wait(userID, seriesKey) == 0
}

// Record starts the interval for the pair. Callers that may fail to send
// call it only once the send went through.
func (t *Throttle) Record(userID, seriesKey string) {
	t.sent.Set(ttlstore.Key(userID, seriesKey), t.Now())
}

// Wait is how long until Allow would succeed for the pair.
func (t *Throttle) Wait(userID, seriesKey string) time.Duration {
	last, ok := t.sent.Get(ttlstore.Key(userID, seriesKey))
	if !ok {
		return 0
	}
	if d := t.Interval - t.Now().Sub(last); d > 0 {
		return d
	}
	return 0
}
