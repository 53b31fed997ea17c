package models

import "time"

const (
	StatusReading   = "reading"
	StatusCompleted = "completed"
	StatusOnHold    = "on_hold"
	StatusDropped   = "dropped"
)

// SeriesRecord is the canonical identity of a series for one user, keyed by
// the normalized title. It tracks "last touched", not the canonical position.
type SeriesRecord struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Title           string    `json:"title"`
	NormalizedTitle string    `json:"normalized_title"`
	Status          string    `json:"status"`
	ChapterNumber   float64   `json:"current_chapter"`
	PositionPercent int       `json:"progress_percentage"`
	LastReadAt      time.Time `json:"last_read_at"`
	CreatedAt       time.Time `json:"created_at"`
}
