package resolve

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/pkg/models"
)

var base = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func rec(platform string, chapter float64, at time.Time) *models.ProgressRecord {
	return &models.ProgressRecord{
		UserID:        "u1",
		SeriesID:      "s1",
		Platform:      platform,
		ChapterNumber: chapter,
		UpdatedAt:     at,
		LastReadAt:    at,
	}
}

func TestNewerTimestampWins(t *testing.T) {
	older := rec("webtoon", 20, base)
	newer := rec("mangadex", 5, base.Add(time.Minute))

	res := Resolve(older, newer)
	require.NotNil(t, res.Winner)
	assert.Equal(t, "mangadex", res.Winner.Platform)
	assert.False(t, res.IncomingWon)
	assert.Equal(t, LastWriteWins, res.Winner.ResolvedBy)
}

func TestEqualTimestampHigherChapterWins(t *testing.T) {
	res := Resolve(rec("mangadex", 9, base), rec("webtoon", 10, base))
	assert.Equal(t, "webtoon", res.Winner.Platform)
}

func TestEqualTimestampAndChapterSmallerPlatformWins(t *testing.T) {
	res := Resolve(rec("webtoon", 10, base), rec("mangadex", 10, base))
	assert.Equal(t, "mangadex", res.Winner.Platform)
}

func TestOrderIndependent(t *testing.T) {
	records := []*models.ProgressRecord{
		rec("mangadex", 5, base),
		rec("webtoon", 8, base.Add(time.Hour)),
		rec("mangaplus", 8, base.Add(time.Hour)),
		rec("webtoon", 8, base),
		rec("asura", 8, base),
	}
	records[3].PositionPercent = 40

	for _, a := range records {
		for _, b := range records {
			ab := Resolve(a, b).Winner
			ba := Resolve(b, a).Winner
			assert.Equal(t, *ab, *ba)
		}
	}
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	a := rec("mangadex", 5, base)
	b := rec("webtoon", 6, base)
	before := *a

	res := Resolve(a, b)
	assert.Equal(t, before, *a)
	assert.Empty(t, b.ResolvedBy)
	assert.NotSame(t, b, res.Winner)
}

func TestNilSides(t *testing.T) {
	a := rec("mangadex", 5, base)
	res := Resolve(a, nil)
	assert.True(t, res.IncomingWon)
	assert.Equal(t, "mangadex", res.Winner.Platform)

	res = Resolve(nil, a)
	assert.False(t, res.IncomingWon)
	assert.Equal(t, "mangadex", res.Winner.Platform)

	assert.Nil(t, Resolve(nil, nil).Winner)
}

func TestRetriedEventKeepsExisting(t *testing.T) {
	a := rec("mangadex", 5, base)
	res := Resolve(a, rec("mangadex", 5, base))
	assert.False(t, res.IncomingWon)
	assert.Equal(t, 0, Compare(a, rec("mangadex", 5, base)))
}

func TestSameKeyPositionBreaksTie(t *testing.T) {
	a := rec("mangadex", 5, base)
	b := rec("mangadex", 5, base)
	b.PositionPercent = 70
	assert.True(t, Resolve(b, a).IncomingWon)
	assert.Equal(t, 70, Resolve(a, b).Winner.PositionPercent)
}

func TestWinnerFold(t *testing.T) {
	assert.Equal(t, -1, Winner(nil))

	records := []models.ProgressRecord{
		*rec("mangadex", 10, base),
		*rec("webtoon", 10, base),
		*rec("asura", 9, base),
	}
	assert.Equal(t, 0, Winner(records))

	// any permutation lands on the same record
	perm := []models.ProgressRecord{records[2], records[1], records[0]}
	assert.Equal(t, "mangadex", perm[Winner(perm)].Platform)
}
