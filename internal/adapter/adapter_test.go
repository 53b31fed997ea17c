package adapter

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var seen = time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

func TestForURLDispatch(t *testing.T) {
	r := DefaultRegistry()
	cases := map[string]string{
		"https://mangadex.org/chapter/1b2c/3":                                       "mangadex",
		"https://www.webtoons.com/en/fantasy/tower-of-god/ep-1/viewer?episode_no=1": "webtoon",
		"https://mangaplus.shueisha.co.jp/viewer/1000486":                           "mangaplus",
		"https://reader.example.com/solo-leveling/chapter-3":                        "generic",
	}
	for raw, want := range cases {
		a, err := r.ForURL(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, want, a.Platform(), raw)
	}

	_, err := r.ForURL("not a url")
	assert.Error(t, err)
}

func TestObserveMangaDex(t *testing.T) {
	ev, err := DefaultRegistry().Observe(Page{
		URL:       "https://mangadex.org/chapter/1b2c/3",
		Title:     "Vol. 2 Ch. 14.5 - Solo Leveling - MangaDex",
		PageIndex: 4,
		PageCount: 9,
	}, seen)
	require.NoError(t, err)
	assert.Equal(t, "mangadex", ev.Platform)
	assert.Equal(t, "Solo Leveling", ev.SeriesKey)
	assert.Equal(t, 14.5, ev.ChapterNumber)
	assert.Equal(t, 50, ev.PositionPercent)
	assert.Equal(t, seen, ev.ObservedAt)
	assert.Equal(t, "https://mangadex.org/chapter/1b2c/3", ev.SourceURL)
}

func TestObserveWebtoon(t *testing.T) {
	ev, err := DefaultRegistry().Observe(Page{
		URL:            "https://www.webtoons.com/en/fantasy/tower-of-god/season-3-ep-150/viewer?title_no=95&episode_no=570",
		Title:          "Season 3 Ep. 150 | Tower of God",
		ScrollTop:      450,
		DocumentHeight: 1000,
		ViewportHeight: 100,
	}, seen)
	require.NoError(t, err)
	assert.Equal(t, "webtoon", ev.Platform)
	assert.Equal(t, "tower of god", ev.SeriesKey)
	assert.Equal(t, 570.0, ev.ChapterNumber)
	assert.Equal(t, 50, ev.PositionPercent)
}

func TestObserveMangaPlus(t *testing.T) {
	ev, err := DefaultRegistry().Observe(Page{
		URL:       "https://mangaplus.shueisha.co.jp/viewer/1000486",
		Title:     "#012 | One Piece | MANGA Plus by SHUEISHA",
		PageIndex: 0,
		PageCount: 20,
	}, seen)
	require.NoError(t, err)
	assert.Equal(t, "One Piece", ev.SeriesKey)
	assert.Equal(t, 12.0, ev.ChapterNumber)
	assert.Equal(t, 0, ev.PositionPercent)
}

func TestObserveGeneric(t *testing.T) {
	ev, err := DefaultRegistry().Observe(Page{
		URL:            "https://reader.example.com/series/omniscient-reader/chapter-42",
		Title:          "Omniscient Reader Chapter 42 | ExampleScans",
		ScrollTop:      0,
		DocumentHeight: 500,
		ViewportHeight: 800,
	}, seen)
	require.NoError(t, err)
	assert.Equal(t, "generic", ev.Platform)
	assert.Equal(t, "Omniscient Reader", ev.SeriesKey)
	assert.Equal(t, 42.0, ev.ChapterNumber)
	// page shorter than the viewport cannot scroll
	assert.Equal(t, 0, ev.PositionPercent)
}

func TestObserveUndetectable(t *testing.T) {
	r := DefaultRegistry()

	_, err := r.Observe(Page{URL: "https://example.com/about", Title: "About us"}, seen)
	assert.True(t, errors.Is(err, ErrChapterUndetected))

	_, err = r.Observe(Page{URL: "https://mangadex.org/chapter/x/1", Title: "Ch. 3 - MangaDex"}, seen)
	assert.True(t, errors.Is(err, ErrSeriesUndetected))
}

func TestCustomRegistryOrder(t *testing.T) {
	r := NewRegistry(Webtoon{})
	a, err := r.ForURL("https://mangadex.org/chapter/x/1")
	require.NoError(t, err)
	assert.Equal(t, "generic", a.Platform())
}
