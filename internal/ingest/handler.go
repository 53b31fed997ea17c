package ingest

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"mangasync/internal/apperr"
	"mangasync/internal/auth"
)

const maxBodyBytes = 64 << 10

type Handler struct {
	Gate   *Gate
	Tokens auth.TokenService

	schema *jsonschema.Schema
}

func NewHandler(gate *Gate, tokens auth.TokenService) (*Handler, error) {
	sch, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Handler{Gate: gate, Tokens: tokens, schema: sch}, nil
}

func (h *Handler) RegisterRoutes(r gin.IRouter) {
	grp := r.Group("/sync", CORS())
	grp.POST("/progress", h.ingest)
	grp.OPTIONS("/progress", func(c *gin.Context) {})
}

type reportReq struct {
	SeriesTitle    string  `json:"seriesTitle"`
	Chapter        float64 `json:"chapter"`
	ScrollPosition float64 `json:"scrollPosition"`
	Timestamp      int64   `json:"timestamp"`
	Platform       string  `json:"platform"`
	UserID         string  `json:"userId"`
	URL            string  `json:"url"`
}

type reportResp struct {
	Success           bool      `json:"success"`
	SyncedAt          time.Time `json:"syncedAt"`
	NextSyncInSeconds int       `json:"nextSyncInSeconds"`
	Skipped           bool      `json:"skipped,omitempty"`
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"success": false, "error": msg})
}

func (h *Handler) ingest(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		fail(c, http.StatusBadRequest, "body too large or unreadable")
		return
	}
	if err := validatePayload(h.schema, body); err != nil {
		fail(c, http.StatusBadRequest, "invalid payload")
		return
	}

	var req reportReq
	if err := json.Unmarshal(body, &req); err != nil {
		fail(c, http.StatusBadRequest, "invalid json")
		return
	}

	// a bearer token, when present, must be valid and overrides the body
	userID := strings.TrimSpace(req.UserID)
	if raw := auth.BearerToken(c.Request); raw != "" {
		claims, err := h.Tokens.Parse(raw)
		if err != nil {
			fail(c, http.StatusUnauthorized, "invalid token")
			return
		}
		userID = claims.UserID
	}
	if userID == "" {
		fail(c, http.StatusUnauthorized, "user id required")
		return
	}

	res, err := h.Gate.Ingest(c.Request.Context(), Request{
		UserID:          userID,
		Platform:        req.Platform,
		SeriesTitle:     req.SeriesTitle,
		ChapterNumber:   req.Chapter,
		PositionPercent: int(math.Round(req.ScrollPosition)),
		ObservedAt:      time.UnixMilli(req.Timestamp),
		SourceURL:       req.URL,
	})
	if err != nil {
		if apperr.Is(err, apperr.KindStoreUnavailable) {
			h.Gate.logger().Printf("[ingest] user=%s: %v", userID, err)
		}
		fail(c, apperr.HTTPStatus(err), apperr.Message(err))
		return
	}

	c.JSON(http.StatusOK, reportResp{
		Success:           true,
		SyncedAt:          res.SyncedAt,
		NextSyncInSeconds: int(res.NextSyncIn / time.Second),
		Skipped:           res.Skipped,
	})
}
