package series

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mangasync/pkg/database"
	"mangasync/pkg/models"
)

type Repo struct {
	DB *database.DB
}

func NewRepo(db *database.DB) *Repo {
	return &Repo{DB: db}
}

const seriesColumns = `id, user_id, title, normalized_title, status, current_chapter, progress_percentage, last_read_at, created_at`

// FindByNormalizedTitle returns every row for the key, newest first. More
// than one row means an earlier duplicate slipped in.
func (r *Repo) FindByNormalizedTitle(ctx context.Context, userID, normalized string) ([]models.SeriesRecord, error) {
	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
		SELECT `+seriesColumns+`
		FROM user_series
		WHERE user_id = ? AND normalized_title = ?
		ORDER BY created_at DESC, id DESC
	`), userID, normalized)
	if err != nil {
		return nil, fmt.Errorf("find series: %w", err)
	}
	defer rows.Close()

	var out []models.SeriesRecord
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, fmt.Errorf("scan series: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows series: %w", err)
	}
	return out, nil
}

func (r *Repo) Create(ctx context.Context, s models.SeriesRecord) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO user_series (`+seriesColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), s.ID, s.UserID, s.Title, s.NormalizedTitle, s.Status, s.ChapterNumber, s.PositionPercent,
		database.Millis(s.LastReadAt), database.Millis(s.CreatedAt))
	if err != nil {
		return fmt.Errorf("create series: %w", err)
	}
	return nil
}

// Touch records the latest event against the series unconditionally.
func (r *Repo) Touch(ctx context.Context, s models.SeriesRecord) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
		UPDATE user_series
		SET current_chapter = ?, progress_percentage = ?, last_read_at = ?
		WHERE id = ? AND user_id = ?
	`), s.ChapterNumber, s.PositionPercent, database.Millis(s.LastReadAt), s.ID, s.UserID)
	if err != nil {
		return fmt.Errorf("touch series: %w", err)
	}
	return nil
}

// DeleteMany removes series rows together with their progress rows and
// returns the progress rows it removed.
func (r *Repo) DeleteMany(ctx context.Context, userID string, ids []string) (removed []models.ProgressRecord, err error) {
	if len(ids) == 0 {
		return nil, nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin delete series: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}

	removed, err = duplicateProgress(ctx, tx, r.DB.Rebind(`
		SELECT user_id, series_id, platform, chapter, progress_percentage, source_url, updated_at, last_read_at
		FROM reading_progress
		WHERE user_id = ? AND series_id IN (`+marks+`)
		ORDER BY series_id ASC, platform ASC
	`), args)
	if err != nil {
		return nil, err
	}
	if _, err = tx.ExecContext(ctx, r.DB.Rebind(`
		DELETE FROM reading_progress WHERE user_id = ? AND series_id IN (`+marks+`)
	`), args...); err != nil {
		return nil, fmt.Errorf("delete duplicate progress: %w", err)
	}
	if _, err = tx.ExecContext(ctx, r.DB.Rebind(`
		DELETE FROM user_series WHERE user_id = ? AND id IN (`+marks+`)
	`), args...); err != nil {
		return nil, fmt.Errorf("delete duplicate series: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit delete series: %w", err)
	}
	return removed, nil
}

func duplicateProgress(ctx context.Context, tx *sql.Tx, query string, args []any) ([]models.ProgressRecord, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list duplicate progress: %w", err)
	}
	defer rows.Close()

	var out []models.ProgressRecord
	for rows.Next() {
		var (
			rec      models.ProgressRecord
			updated  int64
			lastRead int64
		)
		if err := rows.Scan(&rec.UserID, &rec.SeriesID, &rec.Platform, &rec.ChapterNumber,
			&rec.PositionPercent, &rec.SourceURL, &updated, &lastRead); err != nil {
			return nil, fmt.Errorf("scan duplicate progress: %w", err)
		}
		rec.UpdatedAt = database.FromMillis(updated)
		rec.LastReadAt = database.FromMillis(lastRead)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows duplicate progress: %w", err)
	}
	return out, nil
}

func (r *Repo) Get(ctx context.Context, userID, id string) (*models.SeriesRecord, error) {
	row := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
		SELECT `+seriesColumns+`
		FROM user_series
		WHERE user_id = ? AND id = ?
	`), userID, id)

	s, err := scanSeries(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get series: %w", err)
	}
	return &s, nil
}

func (r *Repo) List(ctx context.Context, userID, status string, limit, offset int) ([]models.SeriesRecord, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	where := `WHERE user_id = ?`
	args := []any{userID}
	if status != "" {
		where += ` AND status = ?`
		args = append(args, status)
	}

	var total int
	if err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`SELECT COUNT(*) FROM user_series `+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count series: %w", err)
	}

	rows, err := r.DB.QueryContext(ctx, r.DB.Rebind(`
		SELECT `+seriesColumns+`
		FROM user_series `+where+`
		ORDER BY last_read_at DESC, id ASC
		LIMIT ? OFFSET ?
	`), append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list series: %w", err)
	}
	defer rows.Close()

	out := make([]models.SeriesRecord, 0, limit)
	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan series row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("rows err: %w", err)
	}
	return out, total, nil
}

// Each calls fn for every series of every user, ordered by user then id.
// fn must not use the database.
func (r *Repo) Each(ctx context.Context, fn func(models.SeriesRecord) error) error {
	rows, err := r.DB.QueryContext(ctx, `
		SELECT `+seriesColumns+`
		FROM user_series
		ORDER BY user_id ASC, id ASC
	`)
	if err != nil {
		return fmt.Errorf("scan all series: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		s, err := scanSeries(rows)
		if err != nil {
			return fmt.Errorf("scan series row: %w", err)
		}
		if err := fn(s); err != nil {
			return err
		}
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSeries(sc scanner) (models.SeriesRecord, error) {
	var (
		s        models.SeriesRecord
		lastRead int64
		created  int64
	)
	if err := sc.Scan(&s.ID, &s.UserID, &s.Title, &s.NormalizedTitle, &s.Status,
		&s.ChapterNumber, &s.PositionPercent, &lastRead, &created); err != nil {
		return s, err
	}
	s.LastReadAt = database.FromMillis(lastRead)
	s.CreatedAt = database.FromMillis(created)
	return s, nil
}

// NormalizeStatus maps user input onto a stored status, "" when unknown.
func NormalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "reading":
		return models.StatusReading
	case "completed":
		return models.StatusCompleted
	case "on hold", "on_hold", "onhold":
		return models.StatusOnHold
	case "dropped":
		return models.StatusDropped
	default:
		return ""
	}
}
