// Package host is the extension side of progress reporting: the message
// bus between page adapters, UI and the background host, and the host that
// caches, debounces and forwards events to the ingest endpoint.
package host

import (
	"context"
	"sync"
	"time"

	"mangasync/pkg/models"
)

type MessageType string

const (
	ProgressUpdate MessageType = "PROGRESS_UPDATE"
	GetPopupState  MessageType = "GET_POPUP_STATE"
	ManualSync     MessageType = "MANUAL_SYNC"
	SetUserID      MessageType = "SET_USER_ID"
)

type Message struct {
	Type   MessageType           `json:"type"`
	Event  *models.ProgressEvent `json:"event,omitempty"`
	UserID string                `json:"userId,omitempty"`
}

type Response struct {
	OK     bool        `json:"ok"`
	Error  string      `json:"error,omitempty"`
	State  *PopupState `json:"state,omitempty"`
	Synced int         `json:"synced,omitempty"`
}

// Handler answers bus messages. replied is false for fire-and-forget
// messages; the caller then has no new data, which is not an error.
type Handler interface {
	HandleMessage(ctx context.Context, msg Message) (resp Response, replied bool)
}

type HandlerFunc func(ctx context.Context, msg Message) (Response, bool)

func (f HandlerFunc) HandleMessage(ctx context.Context, msg Message) (Response, bool) {
	return f(ctx, msg)
}

// Outcome says what became of a request. A silent handler is Installed,
// never NotInstalled.
type Outcome string

const (
	Installed    Outcome = "installed"
	NotInstalled Outcome = "not-installed"
	TimedOut     Outcome = "timed-out"
)

type Bus struct {
	mu      sync.RWMutex
	handler Handler
}

func NewBus() *Bus { return &Bus{} }

func (b *Bus) Register(h Handler) {
	b.mu.Lock()
	b.handler = h
	b.mu.Unlock()
}

func (b *Bus) Unregister() {
	b.Register(nil)
}

func (b *Bus) current() Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handler
}

// Request delivers msg and waits at most timeout for the handler. The
// response is meaningful only with Installed; replied tells whether the
// handler answered at all.
func Request(ctx context.Context, bus *Bus, msg Message, timeout time.Duration) (Response, Outcome) {
	h := bus.current()
	if h == nil {
		return Response{}, NotInstalled
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		resp    Response
		replied bool
	}
	done := make(chan result, 1)
	go func() {
		resp, replied := h.HandleMessage(ctx, msg)
		done <- result{resp: resp, replied: replied}
	}()

	select {
	case r := <-done:
		if !r.replied {
			return Response{}, Installed
		}
		return r.resp, Installed
	case <-ctx.Done():
		return Response{}, TimedOut
	}
}
