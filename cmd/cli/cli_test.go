package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/internal/adapter"
	"mangasync/internal/auth"
	"mangasync/pkg/models"
	"mangasync/pkg/utils"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("MANGASYNC_TOKEN", "")
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenIssueAndClear(t *testing.T) {
	t.Setenv("MANGASYNC_JWT_SECRET", "cli-secret")
	path := filepath.Join(t.TempDir(), "token.json")

	_, err := run(t, "--token-file", path, "token", "issue", "--user", "u1", "--username", "ana")
	require.NoError(t, err)

	raw, err := readToken(path)
	require.NoError(t, err)
	cfg := utils.LoadAuthConfig()
	claims, err := auth.TokenService{Secret: []byte(cfg.JWTSecret), Issuer: cfg.JWTIssuer}.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "ana", claims.Username)

	_, err = run(t, "--token-file", path, "token", "clear")
	require.NoError(t, err)
	_, err = readToken(path)
	assert.Error(t, err)

	// clearing twice is fine
	_, err = run(t, "--token-file", path, "token", "clear")
	assert.NoError(t, err)
}

func TestTokenIssueNeedsUser(t *testing.T) {
	_, err := run(t, "--token-file", filepath.Join(t.TempDir(), "t.json"), "token", "issue")
	assert.Error(t, err)
}

func TestBuildEventFromPage(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ro := &reportOptions{page: adapter.Page{
		URL:       "https://mangadex.org/chapter/1b2c/3",
		Title:     "Vol. 2 Ch. 14.5 - Solo Leveling - MangaDex",
		PageIndex: 4,
		PageCount: 9,
	}}

	ev, err := buildEvent(ro, false, now)
	require.NoError(t, err)
	assert.Equal(t, "mangadex", ev.Platform)
	assert.Equal(t, "Solo Leveling", ev.SeriesKey)
	assert.Equal(t, 14.5, ev.ChapterNumber)
	assert.Equal(t, 50, ev.PositionPercent)
	assert.Equal(t, now, ev.ObservedAt)

	ro.percent = 80
	ev, err = buildEvent(ro, true, now)
	require.NoError(t, err)
	assert.Equal(t, 80, ev.PositionPercent)

	ro.percent = 101
	_, err = buildEvent(ro, true, now)
	assert.Error(t, err)
}

func TestBuildEventExplicit(t *testing.T) {
	now := time.Now()
	ro := &reportOptions{
		page:    adapter.Page{URL: "https://reader.example.com/about"},
		series:  "Blue Lock",
		chapter: 200,
	}
	ev, err := buildEvent(ro, false, now)
	require.NoError(t, err)
	assert.Equal(t, "generic", ev.Platform)
	assert.Equal(t, "Blue Lock", ev.SeriesKey)
	assert.Equal(t, 200.0, ev.ChapterNumber)

	ro.platform = "mangadex"
	ev, err = buildEvent(ro, false, now)
	require.NoError(t, err)
	assert.Equal(t, "mangadex", ev.Platform)
}

func TestBuildEventUndetected(t *testing.T) {
	ro := &reportOptions{page: adapter.Page{URL: "https://example.com/about", Title: "About us"}}
	_, err := buildEvent(ro, false, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, adapter.ErrChapterUndetected)
	assert.Contains(t, err.Error(), "--series")
}

func TestReportDryRun(t *testing.T) {
	out, err := run(t, "report", "--dry-run", "--pretty=false",
		"--url", "https://mangaplus.shueisha.co.jp/viewer/1000486",
		"--title", "#012 | One Piece | MANGA Plus by SHUEISHA",
		"--percent", "30")
	require.NoError(t, err)

	var ev models.ProgressEvent
	require.NoError(t, json.Unmarshal([]byte(out), &ev))
	assert.Equal(t, "One Piece", ev.SeriesKey)
	assert.Equal(t, 12.0, ev.ChapterNumber)
	assert.Equal(t, 30, ev.PositionPercent)
}

func TestReportSendsWithToken(t *testing.T) {
	var got map[string]any
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync/progress", r.URL.Path)
		authHeader = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"syncedAt":"2024-05-01T12:00:00Z","nextSyncInSeconds":5}`))
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, "tok-1"))

	out, err := run(t, "--api", srv.URL, "--token-file", path, "report",
		"--url", "https://reader.example.com/series/omniscient-reader/chapter-42",
		"--title", "Omniscient Reader Chapter 42 | ExampleScans")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", authHeader)
	assert.Equal(t, "Omniscient Reader", got["seriesTitle"])
	assert.Equal(t, 42.0, got["chapter"])
	_, hasUser := got["userId"]
	assert.False(t, hasUser)
	assert.Contains(t, out, `"nextSyncInSeconds": 5`)
}

func TestReadCommandsNeedToken(t *testing.T) {
	_, err := run(t, "--token-file", filepath.Join(t.TempDir(), "missing.json"), "unified", "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "token issue")
}

func TestUnifiedAndForget(t *testing.T) {
	var deleted string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok-2", r.Header.Get("Authorization"))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/users/progress/s1":
			_, _ = w.Write([]byte(`{"series_id":"s1","current_chapter":12,"current_platform":"mangadex","scroll_position":40,"alternatives":[]}`))
		case r.Method == http.MethodGet && r.URL.Path == "/users/progress/s2":
			_, _ = w.Write([]byte(`null`))
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			_, _ = w.Write([]byte(`{"deleted":true}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, "tok-2"))

	out, err := run(t, "--api", srv.URL, "--token-file", path, "unified", "s1")
	require.NoError(t, err)
	assert.Contains(t, out, `"series_id": "s1"`)

	out, err = run(t, "--api", srv.URL, "--token-file", path, "unified", "s2")
	require.NoError(t, err)
	assert.Equal(t, "no progress\n", out)

	_, err = run(t, "--api", srv.URL, "--token-file", path, "forget", "s1", "webtoon")
	require.NoError(t, err)
	assert.Equal(t, "/users/progress/s1/webtoon", deleted)

	_, err = run(t, "--api", srv.URL, "--token-file", path, "unified", "s1", "extra")
	assert.Error(t, err)
}

func TestDoJSONSurfacesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"status must be one of: reading, completed, on_hold, dropped"}`))
	}))
	defer srv.Close()

	err := doJSON(t.Context(), http.DefaultClient, http.MethodGet, srv.URL+"/users/series", "", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status must be one of")
}

func TestWebsocketURL(t *testing.T) {
	u, err := websocketURL("http://localhost:8080", "/ws")
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:8080/ws", u)

	u, err = websocketURL("https://sync.example.com/api/", "/ws")
	require.NoError(t, err)
	assert.Equal(t, "wss://sync.example.com/api/ws", u)
}

func TestObserveCoalescesAndFlushes(t *testing.T) {
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		bodies = append(bodies, body)
		_, _ = w.Write([]byte(`{"success":true,"syncedAt":"2024-05-01T12:00:00Z","nextSyncInSeconds":5}`))
	}))
	defer srv.Close()

	token, _, err := auth.TokenService{Secret: []byte("s"), Duration: time.Hour}.Sign("u7", "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "token.json")
	require.NoError(t, saveToken(path, token))

	pages := filepath.Join(t.TempDir(), "pages.jsonl")
	lines := `{"url":"https://mangaplus.shueisha.co.jp/viewer/1","title":"#011 | One Piece | MANGA Plus by SHUEISHA","page_index":2,"page_count":5}
not json
{"url":"https://example.com/about","title":"About us"}
{"url":"https://mangaplus.shueisha.co.jp/viewer/2","title":"#012 | One Piece | MANGA Plus by SHUEISHA","page_index":4,"page_count":5}
`
	require.NoError(t, os.WriteFile(pages, []byte(lines), 0o600))

	out, err := run(t, "--api", srv.URL, "--token-file", path, "observe", "--file", pages, "--quiet", "1h")
	require.NoError(t, err)

	// both pages share a series key; only the newest is sent
	require.Len(t, bodies, 1)
	assert.Equal(t, "One Piece", bodies[0]["seriesTitle"])
	assert.Equal(t, 12.0, bodies[0]["chapter"])
	assert.Equal(t, 100.0, bodies[0]["scrollPosition"])
	assert.Equal(t, "u7", bodies[0]["userId"])
	assert.Contains(t, out, `"userId": "u7"`)
	assert.Contains(t, out, `"pending": 0`)
}

func TestUserFromToken(t *testing.T) {
	token, _, err := auth.TokenService{Secret: []byte("other"), Duration: time.Hour}.Sign("u9", "")
	require.NoError(t, err)
	uid, err := userFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "u9", uid)

	_, err = userFromToken("garbage")
	assert.Error(t, err)
}
