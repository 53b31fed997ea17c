package series

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/pkg/database/dbtest"
	"mangasync/pkg/models"
)

func newSeries(id, user, title string, created time.Time) models.SeriesRecord {
	return models.SeriesRecord{
		ID:              id,
		UserID:          user,
		Title:           title,
		NormalizedTitle: NormalizeTitle(title),
		Status:          models.StatusReading,
		ChapterNumber:   1,
		LastReadAt:      created,
		CreatedAt:       created,
	}
}

func TestRepoCreateFindTouch(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(dbtest.New(t))
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	require.NoError(t, repo.Create(ctx, newSeries("a", "u1", "Solo Leveling", t0)))
	require.NoError(t, repo.Create(ctx, newSeries("b", "u1", "solo-leveling", t0.Add(time.Second))))
	require.NoError(t, repo.Create(ctx, newSeries("c", "u2", "Solo Leveling", t0)))

	found, err := repo.FindByNormalizedTitle(ctx, "u1", "solo leveling")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "b", found[0].ID, "newest first")
	assert.Equal(t, t0, found[1].CreatedAt)

	touched := found[0]
	touched.ChapterNumber = 12.5
	touched.PositionPercent = 40
	touched.LastReadAt = t0.Add(time.Hour)
	require.NoError(t, repo.Touch(ctx, touched))

	got, err := repo.Get(ctx, "u1", "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 12.5, got.ChapterNumber)
	assert.Equal(t, 40, got.PositionPercent)
	assert.Equal(t, t0.Add(time.Hour), got.LastReadAt)

	missing, err := repo.Get(ctx, "u2", "b")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestRepoDeleteMany(t *testing.T) {
	ctx := context.Background()
	db := dbtest.New(t)
	repo := NewRepo(db)
	t0 := time.Now().UTC()

	require.NoError(t, repo.Create(ctx, newSeries("a", "u1", "Omniscient Reader", t0)))
	require.NoError(t, repo.Create(ctx, newSeries("b", "u1", "Omniscient Reader", t0)))
	_, err := db.Exec(`INSERT INTO reading_progress (user_id, series_id, platform, chapter, progress_percentage, updated_at, last_read_at)
		VALUES ('u1', 'a', 'webtoon', 3, 0, 1, 1)`)
	require.NoError(t, err)

	removed, err := repo.DeleteMany(ctx, "u1", []string{"a"})
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, "a", removed[0].SeriesID)
	assert.Equal(t, "webtoon", removed[0].Platform)
	assert.Equal(t, 3.0, removed[0].ChapterNumber)
	assert.Equal(t, int64(1), removed[0].UpdatedAt.UnixMilli())

	removed, err = repo.DeleteMany(ctx, "u1", nil)
	require.NoError(t, err)
	assert.Empty(t, removed)

	found, err := repo.FindByNormalizedTitle(ctx, "u1", "omniscient reader")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "b", found[0].ID)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM reading_progress`).Scan(&n))
	assert.Zero(t, n)
}

func TestRepoList(t *testing.T) {
	ctx := context.Background()
	repo := NewRepo(dbtest.New(t))
	t0 := time.Now().UTC()

	for i, title := range []string{"A", "B", "C"} {
		require.NoError(t, repo.Create(ctx, newSeries(title, "u1", title, t0.Add(time.Duration(i)*time.Minute))))
	}

	items, total, err := repo.List(ctx, "u1", "", 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.Equal(t, "C", items[0].ID)

	items, total, err = repo.List(ctx, "u1", models.StatusCompleted, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
}

func TestNormalizeStatus(t *testing.T) {
	assert.Equal(t, models.StatusOnHold, NormalizeStatus("On Hold"))
	assert.Equal(t, models.StatusReading, NormalizeStatus(" reading "))
	assert.Equal(t, "", NormalizeStatus("wish list"))
}
