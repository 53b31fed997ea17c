package host

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"mangasync/internal/adapter"
	"mangasync/internal/series"
	"mangasync/pkg/models"
)

// PopupState is what the extension popup shows.
type PopupState struct {
	UserID     string                 `json:"userId,omitempty"`
	Latest     []models.ProgressEvent `json:"latest"`
	Pending    int                    `json:"pending"`
	LastSyncAt time.Time              `json:"lastSyncAt,omitempty"`
	LastError  string                 `json:"lastError,omitempty"`
}

// Host caches the latest event per series and forwards events once they
// settle. Nothing is sent while the user id is unknown; events are held.
type Host struct {
	Sink   Sink
	Logger *log.Logger

	coalescer *adapter.Coalescer
	throttle  *adapter.Throttle

	mu       sync.Mutex
	userID   string
	latest   map[string]models.ProgressEvent
	lastSync time.Time
	lastErr  string
}

func NewHost(sink Sink, quiet, minInterval time.Duration, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	return &Host{
		Sink:      sink,
		Logger:    logger,
		coalescer: adapter.NewCoalescer(quiet),
		throttle:  adapter.NewThrottle(minInterval),
		latest:    make(map[string]models.ProgressEvent),
	}
}

// SetClock replaces the time source of the debouncing stages.
func (h *Host) SetClock(now func() time.Time) {
	h.coalescer.Now = now
	h.throttle.Now = now
}

func eventKey(ev models.ProgressEvent) string {
	return series.NormalizeTitle(ev.SeriesKey) + "|" + strings.ToLower(ev.Platform)
}

func (h *Host) HandleMessage(ctx context.Context, msg Message) (Response, bool) {
	switch msg.Type {
	case ProgressUpdate:
		if msg.Event == nil || series.NormalizeTitle(msg.Event.SeriesKey) == "" || msg.Event.ChapterNumber <= 0 {
			return Response{Error: "invalid progress event"}, true
		}
		ev := *msg.Event
		key := eventKey(ev)
		h.mu.Lock()
		h.latest[key] = ev
		h.mu.Unlock()
		h.coalescer.Offer(key, ev)
		return Response{}, false

	case GetPopupState:
		st := h.State()
		return Response{OK: true, State: &st}, true

	case ManualSync:
		n, err := h.Flush(ctx)
		if err != nil {
			return Response{Error: err.Error(), Synced: n}, true
		}
		return Response{OK: true, Synced: n}, true

	case SetUserID:
		h.mu.Lock()
		h.userID = strings.TrimSpace(msg.UserID)
		h.mu.Unlock()
		return Response{OK: true}, true

	default:
		return Response{Error: "unknown message type"}, true
	}
}

func (h *Host) State() PopupState {
	h.mu.Lock()
	defer h.mu.Unlock()
	st := PopupState{
		UserID:     h.userID,
		Latest:     make([]models.ProgressEvent, 0, len(h.latest)),
		Pending:    h.coalescer.Len(),
		LastSyncAt: h.lastSync,
		LastError:  h.lastErr,
	}
	keys := make([]string, 0, len(h.latest))
	for k := range h.latest {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		st.Latest = append(st.Latest, h.latest[k])
	}
	return st
}

func (h *Host) user() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.userID
}

// ErrNoUser is returned by Flush until SET_USER_ID arrived.
var ErrNoUser = errors.New("no user id set; events are held")

// FlushDue sends events whose quiet window elapsed and whose series is not
// throttled. Throttled events go back to the coalescer. Only a send that
// went through starts the throttle interval.
func (h *Host) FlushDue(ctx context.Context) int {
	uid := h.user()
	if uid == "" {
		return 0
	}
	sent := 0
	for _, ev := range h.coalescer.Due() {
		key := series.NormalizeTitle(ev.SeriesKey)
		if !h.throttle.Ready(uid, key) {
			h.coalescer.Requeue(eventKey(ev), ev)
			continue
		}
		if h.send(ctx, uid, ev) == nil {
			h.throttle.Record(uid, key)
			sent++
		}
	}
	return sent
}

// Flush sends everything pending now, ignoring quiet windows and throttles.
// It returns the first send error; failed events stay pending.
func (h *Host) Flush(ctx context.Context) (int, error) {
	uid := h.user()
	if uid == "" {
		return 0, ErrNoUser
	}
	sent := 0
	var firstErr error
	for _, ev := range h.coalescer.Flush() {
		if err := h.send(ctx, uid, ev); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sent++
	}
	return sent, firstErr
}

func (h *Host) send(ctx context.Context, uid string, ev models.ProgressEvent) error {
	res, err := h.Sink.Send(ctx, uid, ev)
	h.mu.Lock()
	defer h.mu.Unlock()
	if err != nil {
		h.lastErr = err.Error()
		h.Logger.Printf("[host] send %q ch %g on %s failed: %v", ev.SeriesKey, ev.ChapterNumber, ev.Platform, err)
		h.coalescer.Requeue(eventKey(ev), ev)
		return err
	}
	h.lastErr = ""
	h.lastSync = res.SyncedAt
	if res.Skipped {
		h.Logger.Printf("[host] server skipped %q on %s as retrograde", ev.SeriesKey, ev.Platform)
	}
	return nil
}

// Run flushes due events every tick until ctx ends.
func (h *Host) Run(ctx context.Context, tick time.Duration) {
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			h.FlushDue(ctx)
		}
	}
}
