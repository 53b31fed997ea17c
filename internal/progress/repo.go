package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"mangasync/pkg/database"
	"mangasync/pkg/models"
)

type Repo struct {
	DB *database.DB
}

func NewRepo(db *database.DB) *Repo {
	return &Repo{DB: db}
}

const progressColumns = `user_id, series_id, platform, chapter, progress_percentage, source_url, updated_at, last_read_at`

// upsertSQL only overwrites a row when the incoming values win under the
// resolver ordering, so two writers racing on one key cannot regress it.
const upsertSQL = `
	INSERT INTO reading_progress (` + progressColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (user_id, series_id, platform) DO UPDATE SET
		chapter = excluded.chapter,
		progress_percentage = excluded.progress_percentage,
		source_url = excluded.source_url,
		updated_at = excluded.updated_at,
		last_read_at = excluded.last_read_at
	WHERE excluded.updated_at > reading_progress.updated_at
		OR (excluded.updated_at = reading_progress.updated_at
			AND excluded.chapter > reading_progress.chapter)
		OR (excluded.updated_at = reading_progress.updated_at
			AND excluded.chapter = reading_progress.chapter
			AND excluded.progress_percentage > reading_progress.progress_percentage)
		OR (excluded.updated_at = reading_progress.updated_at
			AND excluded.chapter = reading_progress.chapter
			AND excluded.progress_percentage = reading_progress.progress_percentage
			AND excluded.source_url < reading_progress.source_url)
`

// Upsert writes rec if its key is free or rec wins over the stored row.
// applied is false when the stored row was kept.
func (r *Repo) Upsert(ctx context.Context, rec models.ProgressRecord) (bool, error) {
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(upsertSQL),
		rec.UserID, rec.SeriesID, rec.Platform, rec.ChapterNumber, rec.PositionPercent, rec.SourceURL,
		database.Millis(rec.UpdatedAt), database.Millis(rec.LastReadAt))
	if err != nil {
		return false, fmt.Errorf("upsert progress: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("upsert progress rows: %w", err)
	}
	return n > 0, nil
}

func (r *Repo) Get(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	row := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
		SELECT `+progressColumns+`
		FROM reading_progress
		WHERE user_id = ? AND series_id = ? AND platform = ?
	`), key.UserID, key.SeriesID, key.Platform)

	rec, err := scanProgress(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return &rec, nil
}

func (r *Repo) ListBySeries(ctx context.Context, userID, seriesID string) ([]models.ProgressRecord, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
		SELECT `+progressColumns+`
		FROM reading_progress
		WHERE user_id = ? AND series_id = ?
		ORDER BY platform ASC
	`), userID, seriesID)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	var out []models.ProgressRecord
	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows progress: %w", err)
	}
	return out, nil
}

// Delete removes one platform row and returns what was stored, nil when the
// key was empty.
func (r *Repo) Delete(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error) {
	old, err := r.Get(ctx, key)
	if err != nil || old == nil {
		return nil, err
	}
	res, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
		DELETE FROM reading_progress
		WHERE user_id = ? AND series_id = ? AND platform = ?
	`), key.UserID, key.SeriesID, key.Platform)
	if err != nil {
		return nil, fmt.Errorf("delete progress: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil
	}
	return old, nil
}

// Each calls fn for every stored record. fn must not use the database.
func (r *Repo) Each(ctx context.Context, fn func(models.ProgressRecord) error) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+progressColumns+`
		FROM reading_progress
		ORDER BY user_id ASC, series_id ASC, platform ASC
	`)
	if err != nil {
		return fmt.Errorf("scan all progress: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		rec, err := scanProgress(rows)
		if err != nil {
			return fmt.Errorf("scan progress: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgress(sc scanner) (models.ProgressRecord, error) {
	var (
		rec      models.ProgressRecord
		updated  int64
		lastRead int64
	)
	if err := sc.Scan(&rec.UserID, &rec.SeriesID, &rec.Platform, &rec.ChapterNumber,
		&rec.PositionPercent, &rec.SourceURL, &updated, &lastRead); err != nil {
		return rec, err
	}
	rec.UpdatedAt = database.FromMillis(updated)
	rec.LastReadAt = database.FromMillis(lastRead)
	return rec, nil
}
