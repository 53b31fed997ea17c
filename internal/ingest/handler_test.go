package ingest

import (
	"bytes"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangasync/internal/auth"
)

func newRouter(t *testing.T) (*gin.Engine, *fixture, auth.TokenService) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	tokens := auth.TokenService{Secret: []byte("ingest-secret"), Duration: time.Hour}
	h, err := NewHandler(f.gate, tokens)
	require.NoError(t, err)
	r := gin.New()
	h.RegisterRoutes(r)
	return r, f, tokens
}

func post(r http.Handler, body, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/sync/progress", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Origin", "https://www.webtoons.com")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

const validBody = `{"seriesTitle":"Solo Leveling","chapter":110,"scrollPosition":45.4,"timestamp":1714557600000,"platform":"webtoon","userId":"u1","url":"https://www.webtoons.com/ep110"}`

func TestHandlerAcceptsReport(t *testing.T) {
	r, f, _ := newRouter(t)

	w := post(r, validBody, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, 5.0, out["nextSyncInSeconds"])
	assert.NotEmpty(t, out["syncedAt"])
	assert.Equal(t, "https://www.webtoons.com", w.Header().Get("Access-Control-Allow-Origin"))

	evs := f.pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, "u1", evs[0].UserID)
	assert.Equal(t, 45, evs[0].New.PositionPercent)
	assert.Equal(t, "https://www.webtoons.com/ep110", evs[0].New.SourceURL)
}

func TestHandlerBearerOverridesBody(t *testing.T) {
	r, f, tokens := newRouter(t)
	tok, _, err := tokens.Sign("from-token", "")
	require.NoError(t, err)

	w := post(r, validBody, tok)
	require.Equal(t, http.StatusOK, w.Code)
	evs := f.pub.all()
	require.Len(t, evs, 1)
	assert.Equal(t, "from-token", evs[0].UserID)

	w = post(r, validBody, "garbage")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, false, decode(t, w)["success"])
}

func TestHandlerRequiresUser(t *testing.T) {
	r, _, _ := newRouter(t)
	body := `{"seriesTitle":"Solo Leveling","chapter":110,"scrollPosition":45,"timestamp":1714557600000}`
	w := post(r, body, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "user id required", decode(t, w)["error"])
}

func TestHandlerRejectsBadPayloads(t *testing.T) {
	r, f, _ := newRouter(t)
	bodies := map[string]string{
		"not json":        `{"seriesTitle":`,
		"missing chapter": `{"seriesTitle":"X","scrollPosition":1,"timestamp":1,"userId":"u1"}`,
		"zero chapter":    `{"seriesTitle":"X","chapter":0,"scrollPosition":1,"timestamp":1,"userId":"u1"}`,
		"scroll > 100":    `{"seriesTitle":"X","chapter":1,"scrollPosition":100.5,"timestamp":1,"userId":"u1"}`,
		"empty title":     `{"seriesTitle":"","chapter":1,"scrollPosition":1,"timestamp":1,"userId":"u1"}`,
		"string chapter":  `{"seriesTitle":"X","chapter":"5","scrollPosition":1,"timestamp":1,"userId":"u1"}`,
		"blank title":     `{"seriesTitle":"   ","chapter":1,"scrollPosition":1,"timestamp":1,"userId":"u1"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			w := post(r, body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Equal(t, false, decode(t, w)["success"])
		})
	}
	assert.Empty(t, f.pub.all())
}

func TestHandlerPreflight(t *testing.T) {
	r, _, _ := newRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/sync/progress", nil)
	req.Header.Set("Origin", "https://mangadex.org")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://mangadex.org", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Authorization")
}

func TestSchemaCompiles(t *testing.T) {
	sch, err := compileSchema()
	require.NoError(t, err)
	assert.NoError(t, validatePayload(sch, []byte(validBody)))
	assert.Error(t, validatePayload(sch, []byte(`[]`)))
}

func TestHandlerStoreFailureDoesNotLeak(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	var logs bytes.Buffer
	g := NewGate(brokenSeries{}, f.progress, f.pub, DefaultPolicy(), log.New(&logs, "", 0))
	h, err := NewHandler(g, auth.TokenService{Secret: []byte("ingest-secret"), Duration: time.Hour})
	require.NoError(t, err)
	r := gin.New()
	h.RegisterRoutes(r)

	w := post(r, validBody, "")
	require.Equal(t, http.StatusInternalServerError, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, false, out["success"])
	assert.Equal(t, "resolve series failed, retry later", out["error"])
	assert.NotContains(t, w.Body.String(), "locked")
	assert.Len(t, out, 2)

	assert.Contains(t, logs.String(), "database is locked")
	assert.Empty(t, f.pub.all())
}
