// Package aggregate reduces every per-platform progress record of a series
// into one current position plus the positions that lost.
package aggregate

import (
	"context"
	"log"
	"sort"

	"mangasync/internal/apperr"
	"mangasync/internal/position"
	"mangasync/internal/resolve"
	"mangasync/pkg/models"
)

// Corrupt is a stored record excluded from aggregation.
type Corrupt struct {
	Record models.ProgressRecord
	Reason string
}

// Build is the pure read-time computation. It returns nil when no valid
// record remains.
func Build(seriesID string, records []models.ProgressRecord) (*models.UnifiedProgress, []Corrupt) {
	valid := make([]models.ProgressRecord, 0, len(records))
	var corrupt []Corrupt
	for _, r := range records {
		if reason := invalidReason(r); reason != "" {
			corrupt = append(corrupt, Corrupt{Record: r, Reason: reason})
			continue
		}
		valid = append(valid, r)
	}
	if len(valid) == 0 {
		return nil, corrupt
	}

	// resolver order, best first; the head is the fold's winner
	sort.SliceStable(valid, func(i, j int) bool {
		return resolve.Compare(&valid[i], &valid[j]) > 0
	})
	winner := valid[0]

	out := &models.UnifiedProgress{
		SeriesID:        seriesID,
		CurrentChapter:  winner.ChapterNumber,
		CurrentPlatform: winner.Platform,
		ScrollPosition:  position.Restore(float64(winner.PositionPercent), position.MaxPercent),
		UpdatedAt:       winner.UpdatedAt,
		ResumeURL:       winner.SourceURL,
		Alternatives:    make([]models.AlternativeProgress, 0, len(valid)-1),
	}
	for _, r := range valid[1:] {
		out.Alternatives = append(out.Alternatives, models.AlternativeProgress{
			Platform:  r.Platform,
			Chapter:   r.ChapterNumber,
			UpdatedAt: r.UpdatedAt,
			ResumeURL: r.SourceURL,
		})
	}
	return out, corrupt
}

func invalidReason(r models.ProgressRecord) string {
	switch {
	case r.Platform == "":
		return "missing platform"
	case r.ChapterNumber <= 0:
		return "missing chapter"
	default:
		return ""
	}
}

type RecordLister interface {
	ListBySeries(ctx context.Context, userID, seriesID string) ([]models.ProgressRecord, error)
}

// Service reads the store on every call. Nothing is cached between calls
// because any record write invalidates the result.
type Service struct {
	Records RecordLister
	Logger  *log.Logger
}

func NewService(records RecordLister, logger *log.Logger) *Service {
	if logger == nil {
		logger = log.Default()
	}
	return &Service{Records: records, Logger: logger}
}

// Aggregate returns nil, nil when the series has no progress yet.
func (s *Service) Aggregate(ctx context.Context, userID, seriesID string) (*models.UnifiedProgress, error) {
	records, err := s.Records.ListBySeries(ctx, userID, seriesID)
	if err != nil {
		return nil, apperr.StoreUnavailable("read progress", err)
	}
	unified, corrupt := Build(seriesID, records)
	for _, c := range corrupt {
		s.Logger.Printf("[aggregate] %s: excluding record user=%s series=%s platform=%q: %s",
			apperr.KindCorruptRecord, c.Record.UserID, c.Record.SeriesID, c.Record.Platform, c.Reason)
	}
	return unified, nil
}
