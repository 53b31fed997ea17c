package resume

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mangasync/pkg/database"
	"mangasync/pkg/models"
)

type Repo struct {
	DB *database.DB
}

func NewRepo(db *database.DB) *Repo {
	return &Repo{DB: db}
}

// Get returns empty preferences for a user who never saved any.
func (r *Repo) Get(ctx context.Context, userID string) (models.Preferences, error) {
	prefs := models.Preferences{UserID: userID, PreferredPlatforms: []string{}}

	var (
		listJSON string
		updated  int64
	)
	err := r.DB.QueryRowContext(ctx, r.DB.Rebind(`
		SELECT preferred_platforms, last_selected_platform, updated_at
		FROM user_preferences
		WHERE user_id = ?
	`), userID).Scan(&listJSON, &prefs.LastSelectedPlatform, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return prefs, nil
		}
		return prefs, fmt.Errorf("get preferences: %w", err)
	}
	_ = json.Unmarshal([]byte(listJSON), &prefs.PreferredPlatforms)
	prefs.UpdatedAt = database.FromMillis(updated)
	return prefs, nil
}

func (r *Repo) Save(ctx context.Context, prefs models.Preferences) error {
	list := prefs.PreferredPlatforms
	if list == nil {
		list = []string{}
	}
	b, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode preferred platforms: %w", err)
	}
	_, err = r.DB.ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO user_preferences (user_id, preferred_platforms, last_selected_platform, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			preferred_platforms = excluded.preferred_platforms,
			last_selected_platform = excluded.last_selected_platform,
			updated_at = excluded.updated_at
	`), prefs.UserID, string(b), prefs.LastSelectedPlatform, database.Millis(time.Now()))
	if err != nil {
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// RecordChoice remembers the platform a user explicitly resumed on.
func (r *Repo) RecordChoice(ctx context.Context, userID, platform string) error {
	_, err := r.DB.ExecContext(ctx, r.DB.Rebind(`
		INSERT INTO user_preferences (user_id, last_selected_platform, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			last_selected_platform = excluded.last_selected_platform,
			updated_at = excluded.updated_at
	`), userID, normalizePlatform(platform), database.Millis(time.Now()))
	if err != nil {
		return fmt.Errorf("record resume choice: %w", err)
	}
	return nil
}
