package aggregate

import (
	"bytes"
	"context"
	"errors"
	"log"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/internal/apperr"
	"mangasync/pkg/models"
)

var ten = time.Date(2026, 4, 12, 10, 0, 0, 0, time.UTC)

func rec(platform string, chapter float64, at time.Time) models.ProgressRecord {
	return models.ProgressRecord{
		UserID:        "u1",
		SeriesID:      "s1",
		Platform:      platform,
		ChapterNumber: chapter,
		UpdatedAt:     at,
		SourceURL:     "https://" + platform + ".example/read",
	}
}

func TestNewerPlatformWins(t *testing.T) {
	u, corrupt := Build("s1", []models.ProgressRecord{
		rec("mangadex", 5, ten),
		rec("webtoon", 8, ten.Add(time.Hour)),
	})
	require.NotNil(t, u)
	assert.Empty(t, corrupt)

	assert.Equal(t, "webtoon", u.CurrentPlatform)
	assert.Equal(t, 8.0, u.CurrentChapter)
	assert.Equal(t, "https://webtoon.example/read", u.ResumeURL)
	require.Len(t, u.Alternatives, 1)
	assert.Equal(t, "mangadex", u.Alternatives[0].Platform)
	assert.Equal(t, 5.0, u.Alternatives[0].Chapter)
}

func TestIdenticalTimestampAndChapterAlphabeticalWins(t *testing.T) {
	u, _ := Build("s1", []models.ProgressRecord{
		rec("webtoon", 10, ten),
		rec("mangadex", 10, ten),
	})
	require.NotNil(t, u)
	assert.Equal(t, "mangadex", u.CurrentPlatform)
	require.Len(t, u.Alternatives, 1)
	assert.Equal(t, "webtoon", u.Alternatives[0].Platform)
}

func TestNoRecordsIsNil(t *testing.T) {
	u, corrupt := Build("s1", nil)
	assert.Nil(t, u)
	assert.Empty(t, corrupt)
}

func TestCorruptRecordsExcluded(t *testing.T) {
	noPlatform := rec("", 4, ten.Add(time.Hour))
	noChapter := rec("asura", 0, ten.Add(2*time.Hour))

	u, corrupt := Build("s1", []models.ProgressRecord{noPlatform, noChapter, rec("mangadex", 3, ten)})
	require.NotNil(t, u)
	assert.Equal(t, "mangadex", u.CurrentPlatform)
	assert.Empty(t, u.Alternatives)
	assert.Len(t, corrupt, 2)

	u, corrupt = Build("s1", []models.ProgressRecord{noPlatform})
	assert.Nil(t, u)
	assert.Len(t, corrupt, 1)
}

func TestOutOfRangePositionRestoresToTop(t *testing.T) {
	r := rec("mangadex", 3, ten)
	r.PositionPercent = 140
	u, _ := Build("s1", []models.ProgressRecord{r})
	assert.Equal(t, 0, u.ScrollPosition)
}

func TestWinnerIndependentOfInputOrder(t *testing.T) {
	records := []models.ProgressRecord{
		rec("mangadex", 5, ten),
		rec("webtoon", 8, ten.Add(time.Hour)),
		rec("mangaplus", 8, ten.Add(time.Hour)),
		rec("asura", 12, ten.Add(-time.Hour)),
	}
	want, _ := Build("s1", records)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		shuffled := append([]models.ProgressRecord(nil), records...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, _ := Build("s1", shuffled)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, "mangaplus", want.CurrentPlatform)
}

type fakeLister struct {
	records []models.ProgressRecord
	err     error
	calls   int
}

func (f *fakeLister) ListBySeries(ctx context.Context, userID, seriesID string) ([]models.ProgressRecord, error) {
	f.calls++
	return f.records, f.err
}

func TestServiceReadsEveryCall(t *testing.T) {
	var buf bytes.Buffer
	lister := &fakeLister{records: []models.ProgressRecord{rec("mangadex", 5, ten), rec("", 9, ten)}}
	svc := NewService(lister, log.New(&buf, "", 0))

	u, err := svc.Aggregate(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "mangadex", u.CurrentPlatform)
	assert.Contains(t, buf.String(), "missing platform")

	lister.records = append(lister.records, rec("webtoon", 6, ten.Add(time.Minute)))
	u, err = svc.Aggregate(context.Background(), "u1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "webtoon", u.CurrentPlatform)
	assert.Equal(t, 2, lister.calls)
}

func TestServiceStoreFailure(t *testing.T) {
	svc := NewService(&fakeLister{err: errors.New("disk I/O error")}, log.New(&bytes.Buffer{}, "", 0))
	u, err := svc.Aggregate(context.Background(), "u1", "s1")
	assert.Nil(t, u)
	assert.True(t, apperr.Is(err, apperr.KindStoreUnavailable))
	assert.NotContains(t, apperr.Message(err), "disk")
}
