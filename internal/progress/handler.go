package progress

import (
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"mangasync/internal/aggregate"
	"mangasync/internal/apperr"
	"mangasync/internal/auth"
	"mangasync/internal/resume"
	"mangasync/internal/series"
	"mangasync/internal/sync"
	"mangasync/pkg/models"
)

type Handler struct {
	Repo       *Repo
	Series     *series.Repo
	Aggregator *aggregate.Service
	Prefs      *resume.Repo
	Hub        *sync.Hub
}

func NewHandler(repo *Repo, seriesRepo *series.Repo, agg *aggregate.Service, prefs *resume.Repo, hub *sync.Hub) *Handler {
	return &Handler{Repo: repo, Series: seriesRepo, Aggregator: agg, Prefs: prefs, Hub: hub}
}

// RegisterRoutes expects rg to sit behind auth.AuthMiddleware.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/users/series", h.listSeries)
	rg.GET("/users/progress/:series_id", h.getUnified)
	rg.GET("/users/progress/:series_id/resume", h.getResume)
	rg.DELETE("/users/progress/:series_id/:platform", h.deleteRecord)
	rg.GET("/users/preferences", h.getPreferences)
	rg.PUT("/users/preferences", h.putPreferences)
}

func userID(c *gin.Context) (string, bool) {
	claims := auth.MustGetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return claims.UserID, true
}

func writeErr(c *gin.Context, err error) {
	if apperr.Is(err, apperr.KindStoreUnavailable) {
		log.Printf("[progress] %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.JSON(apperr.HTTPStatus(err), gin.H{"error": apperr.Message(err)})
}

func (h *Handler) listSeries(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}

	status := ""
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status = series.NormalizeStatus(raw)
		if status == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of: reading, completed, on_hold, dropped"})
			return
		}
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	items, total, err := h.Series.List(c.Request.Context(), uid, status, limit, offset)
	if err != nil {
		writeErr(c, apperr.StoreUnavailable("list series", err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items, "total": total, "limit": limit, "offset": offset})
}

// getUnified answers null when the series has no progress yet.
func (h *Handler) getUnified(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	u, err := h.Aggregator.Aggregate(c.Request.Context(), uid, c.Param("series_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

func (h *Handler) getResume(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	u, err := h.Aggregator.Aggregate(ctx, uid, c.Param("series_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	prefs, err := h.Prefs.Get(ctx, uid)
	if err != nil {
		writeErr(c, apperr.StoreUnavailable("read preferences", err))
		return
	}

	override := strings.TrimSpace(c.Query("platform"))
	sel := resume.Select(u, prefs, override)
	if sel.Reason == resume.ReasonManualOverride {
		if err := h.Prefs.RecordChoice(ctx, uid, sel.Platform); err != nil {
			writeErr(c, apperr.StoreUnavailable("record resume choice", err))
			return
		}
	}
	c.JSON(http.StatusOK, sel)
}

// deleteRecord drops one platform's row and tells live clients about it.
func (h *Handler) deleteRecord(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	key := models.ProgressKey{
		UserID:   uid,
		SeriesID: c.Param("series_id"),
		Platform: strings.ToLower(strings.TrimSpace(c.Param("platform"))),
	}

	old, err := h.Repo.Delete(c.Request.Context(), key)
	if err != nil {
		writeErr(c, apperr.StoreUnavailable("delete progress", err))
		return
	}
	if old == nil {
		writeErr(c, apperr.NotFound("no progress for that platform"))
		return
	}
	if h.Hub != nil {
		h.Hub.Publish(sync.ChangeEvent{Type: sync.EventDelete, UserID: uid, Old: old, At: time.Now().UTC()})
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true, "old": old})
}

func (h *Handler) getPreferences(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	prefs, err := h.Prefs.Get(c.Request.Context(), uid)
	if err != nil {
		writeErr(c, apperr.StoreUnavailable("read preferences", err))
		return
	}
	c.JSON(http.StatusOK, prefs)
}

type preferencesReq struct {
	PreferredPlatforms []string `json:"preferred_platforms"`
}

func (h *Handler) putPreferences(c *gin.Context) {
	uid, ok := userID(c)
	if !ok {
		return
	}
	var req preferencesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	ctx := c.Request.Context()
	prefs, err := h.Prefs.Get(ctx, uid)
	if err != nil {
		writeErr(c, apperr.StoreUnavailable("read preferences", err))
		return
	}
	prefs.PreferredPlatforms = make([]string, 0, len(req.PreferredPlatforms))
	seen := make(map[string]bool)
	for _, p := range req.PreferredPlatforms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		prefs.PreferredPlatforms = append(prefs.PreferredPlatforms, p)
	}
	if err := h.Prefs.Save(ctx, prefs); err != nil {
		writeErr(c, apperr.StoreUnavailable("save preferences", err))
		return
	}
	c.JSON(http.StatusOK, prefs)
}
