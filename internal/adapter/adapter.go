// Package adapter turns an observed reader page into a normalized
// ProgressEvent. Each supported platform is one variant behind Adapter;
// pages no variant claims go to the generic fallback.
package adapter

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"mangasync/internal/position"
	"mangasync/pkg/models"
)

var (
	ErrSeriesUndetected  = errors.New("series not detected")
	ErrChapterUndetected = errors.New("chapter not detected")
)

// Page is what the reader tab reports about itself.
type Page struct {
	URL            string  `json:"url"`
	Title          string  `json:"title"`
	ScrollTop      float64 `json:"scroll_top"`
	DocumentHeight float64 `json:"document_height"`
	ViewportHeight float64 `json:"viewport_height"`
	// PageIndex and PageCount are set by paged readers; PageCount 0 means
	// the reader scrolls.
	PageIndex int `json:"page_index,omitempty"`
	PageCount int `json:"page_count,omitempty"`
}

type Adapter interface {
	Platform() string
	Matches(u *url.URL) bool
	DetectSeries(p Page) (string, bool)
	DetectChapter(p Page) (float64, bool)
	DetectProgress(p Page) int
}

// scrollProgress is the shared position rule: paged readers report their
// page, everything else its scroll offset.
func scrollProgress(p Page) int {
	if p.PageCount > 0 {
		return position.FromPageIndex(p.PageIndex, p.PageCount)
	}
	return position.PixelsToPercentage(p.ScrollTop, position.ScrollableHeight(p.DocumentHeight, p.ViewportHeight))
}

type Registry struct {
	adapters []Adapter
	fallback Adapter
}

// NewRegistry dispatches in the given order and falls back to Generic.
func NewRegistry(adapters ...Adapter) *Registry {
	return &Registry{adapters: adapters, fallback: Generic{}}
}

func DefaultRegistry() *Registry {
	return NewRegistry(MangaDex{}, Webtoon{}, MangaPlus{})
}

func (r *Registry) ForURL(raw string) (Adapter, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("parse page url %q: invalid url", raw)
	}
	for _, a := range r.adapters {
		if a.Matches(u) {
			return a, nil
		}
	}
	return r.fallback, nil
}

// Observe runs the matching adapter over p. at is when the page was seen.
func (r *Registry) Observe(p Page, at time.Time) (models.ProgressEvent, error) {
	a, err := r.ForURL(p.URL)
	if err != nil {
		return models.ProgressEvent{}, err
	}
	title, ok := a.DetectSeries(p)
	if !ok {
		return models.ProgressEvent{}, fmt.Errorf("%s: %w", a.Platform(), ErrSeriesUndetected)
	}
	chapter, ok := a.DetectChapter(p)
	if !ok || chapter <= 0 {
		return models.ProgressEvent{}, fmt.Errorf("%s: %w", a.Platform(), ErrChapterUndetected)
	}
	return models.ProgressEvent{
		SeriesKey:       title,
		Platform:        a.Platform(),
		ChapterNumber:   chapter,
		PositionPercent: a.DetectProgress(p),
		ObservedAt:      at,
		SourceURL:       p.URL,
	}, nil
}
