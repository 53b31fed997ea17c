package sync

import (
	"time"

	"mangasync/pkg/models"
)

type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// ChangeEvent is one row change of reading_progress, filtered per user.
type ChangeEvent struct {
	Type   EventType              `json:"eventType"`
	UserID string                 `json:"user_id"`
	New    *models.ProgressRecord `json:"new"`
	Old    *models.ProgressRecord `json:"old"`
	At     time.Time              `json:"at"`
}

// ConflictUpdate is the shape a client merges into its local state.
type ConflictUpdate struct {
	SeriesID string                `json:"series_id"`
	Platform string                `json:"platform"`
	Record   models.ProgressRecord `json:"record"`
}

// ConflictUpdate maps INSERT and UPDATE notifications. DELETE carries no
// new row and maps to nothing.
func (ev ChangeEvent) ConflictUpdate() (ConflictUpdate, bool) {
	if ev.Type == EventDelete || ev.New == nil {
		return ConflictUpdate{}, false
	}
	return ConflictUpdate{SeriesID: ev.New.SeriesID, Platform: ev.New.Platform, Record: *ev.New}, true
}

// control messages on the line protocol
const (
	SubscribeMessageType = "subscribe"
	WelcomeMessageType   = "welcome"
	ErrorMessageType     = "error"
)

type SubscribeMessage struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Token  string `json:"token,omitempty"`
}

type ControlMessage struct {
	Type      string `json:"type"`
	Transport string `json:"transport,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Message   string `json:"message,omitempty"`
}
