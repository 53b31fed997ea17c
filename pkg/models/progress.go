package models

import "time"

// ProgressEvent is what an observation adapter emits for one detected change.
// It is consumed once by the ingestion gate and never stored as-is.
type ProgressEvent struct {
	SeriesKey       string    `json:"series_key"`
	Platform        string    `json:"platform"`
	ChapterNumber   float64   `json:"chapter_number"`
	PositionPercent int       `json:"position_percent"`
	ObservedAt      time.Time `json:"observed_at"`
	SourceURL       string    `json:"source_url,omitempty"`
}

// ProgressRecord is the durable position for one (user, series, platform).
type ProgressRecord struct {
	UserID          string    `json:"user_id"`
	SeriesID        string    `json:"series_id"`
	Platform        string    `json:"platform"`
	ChapterNumber   float64   `json:"chapter_number"`
	PositionPercent int       `json:"position_percent"`
	SourceURL       string    `json:"source_url,omitempty"`
	UpdatedAt       time.Time `json:"updated_at"`
	LastReadAt      time.Time `json:"last_read_at"`
	ResolvedBy      string    `json:"resolved_by,omitempty"`
}

// Key identifies the row a record occupies in the store.
func (r ProgressRecord) Key() ProgressKey {
	return ProgressKey{UserID: r.UserID, SeriesID: r.SeriesID, Platform: r.Platform}
}

type ProgressKey struct {
	UserID   string `json:"user_id"`
	SeriesID string `json:"series_id"`
	Platform string `json:"platform"`
}

// UnifiedProgress is the reconciled view of a series. It is derived from the
// current ProgressRecords on every read and never cached.
// An empty ResumeURL means no usable URL.
type UnifiedProgress struct {
	SeriesID        string                `json:"series_id"`
	CurrentChapter  float64               `json:"current_chapter"`
	CurrentPlatform string                `json:"current_platform"`
	ScrollPosition  int                   `json:"scroll_position"`
	UpdatedAt       time.Time             `json:"updated_at"`
	ResumeURL       string                `json:"resume_url,omitempty"`
	Alternatives    []AlternativeProgress `json:"alternatives"`
}

// AlternativeProgress is a record that lost resolution for the same series.
type AlternativeProgress struct {
	Platform  string    `json:"platform"`
	Chapter   float64   `json:"chapter"`
	UpdatedAt time.Time `json:"updated_at"`
	ResumeURL string    `json:"resume_url,omitempty"`
}
