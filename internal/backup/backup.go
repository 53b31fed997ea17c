// Package backup dumps series and progress rows to CSV.
package backup

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"mangasync/internal/progress"
	"mangasync/internal/series"
	"mangasync/pkg/database"
	"mangasync/pkg/models"
)

var (
	seriesHeader   = []string{"id", "user_id", "title", "normalized_title", "status", "current_chapter", "progress_percentage", "last_read_at", "created_at"}
	progressHeader = []string{"user_id", "series_id", "platform", "chapter", "progress_percentage", "source_url", "updated_at", "last_read_at"}
)

// Counts reports how many rows were written.
type Counts struct {
	Series   int `json:"series"`
	Progress int `json:"progress"`
}

// Export writes every series and every progress row of every user, with
// timestamps as RFC 3339 in UTC.
func Export(ctx context.Context, db *database.DB, seriesOut, progressOut io.Writer) (Counts, error) {
	var c Counts

	sw := csv.NewWriter(seriesOut)
	if err := sw.Write(seriesHeader); err != nil {
		return c, err
	}
	err := series.NewRepo(db).Each(ctx, func(s models.SeriesRecord) error {
		c.Series++
		return sw.Write([]string{
			s.ID,
			s.UserID,
			s.Title,
			s.NormalizedTitle,
			s.Status,
			formatFloat(s.ChapterNumber),
			strconv.Itoa(s.PositionPercent),
			formatTime(s.LastReadAt),
			formatTime(s.CreatedAt),
		})
	})
	if err != nil {
		return c, fmt.Errorf("export series: %w", err)
	}
	sw.Flush()
	if err := sw.Error(); err != nil {
		return c, err
	}

	pw := csv.NewWriter(progressOut)
	if err := pw.Write(progressHeader); err != nil {
		return c, err
	}
	err = progress.NewRepo(db).Each(ctx, func(rec models.ProgressRecord) error {
		c.Progress++
		return pw.Write([]string{
			rec.UserID,
			rec.SeriesID,
			rec.Platform,
			formatFloat(rec.ChapterNumber),
			strconv.Itoa(rec.PositionPercent),
			rec.SourceURL,
			formatTime(rec.UpdatedAt),
			formatTime(rec.LastReadAt),
		})
	})
	if err != nil {
		return c, fmt.Errorf("export progress: %w", err)
	}
	pw.Flush()
	return c, pw.Error()
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
