package grpcserver

import (
	"context"
	"log"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"mangasync/internal/aggregate"
	"mangasync/internal/apperr"
	"mangasync/internal/ingest"
	"mangasync/internal/resume"
	"mangasync/internal/series"
	"mangasync/internal/sync"
)

// Server exposes the engine to trusted internal callers; user ids come in
// the request.
type Server struct {
	Gate       *ingest.Gate
	Aggregator *aggregate.Service
	Prefs      *resume.Repo
	Series     *series.Repo
	Hub        *sync.Hub
}

func NewServer(gate *ingest.Gate, agg *aggregate.Service, prefs *resume.Repo, seriesRepo *series.Repo, hub *sync.Hub) *Server {
	return &Server{Gate: gate, Aggregator: agg, Prefs: prefs, Series: seriesRepo, Hub: hub}
}

func toStatus(err error) error {
	msg := apperr.Message(err)
	switch apperr.KindOf(err) {
	case apperr.KindInvalidPayload:
		return status.Error(codes.InvalidArgument, msg)
	case apperr.KindUnauthorized:
		return status.Error(codes.Unauthenticated, msg)
	case apperr.KindNotFound:
		return status.Error(codes.NotFound, msg)
	default:
		log.Printf("[grpc] %v", err)
		return status.Error(codes.Unavailable, msg)
	}
}

func (s *Server) Ingest(ctx context.Context, req *IngestRequest) (*IngestResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	var observed time.Time
	if req.TimestampMs > 0 {
		observed = time.UnixMilli(req.TimestampMs)
	}
	res, err := s.Gate.Ingest(ctx, ingest.Request{
		UserID:          req.UserID,
		Platform:        req.Platform,
		SeriesTitle:     req.SeriesTitle,
		ChapterNumber:   req.Chapter,
		PositionPercent: req.ScrollPosition,
		ObservedAt:      observed,
		SourceURL:       req.URL,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &IngestResponse{
		SeriesID:          res.Series.ID,
		Record:            res.Record,
		Applied:           res.Applied,
		Skipped:           res.Skipped,
		SyncedAtMs:        res.SyncedAt.UnixMilli(),
		NextSyncInSeconds: int32(res.NextSyncIn / time.Second),
	}, nil
}

func (s *Server) GetUnified(ctx context.Context, req *GetUnifiedRequest) (*GetUnifiedResponse, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request required")
	}
	userID, seriesID := strings.TrimSpace(req.UserID), strings.TrimSpace(req.SeriesID)
	if userID == "" || seriesID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and series_id required")
	}
	u, err := s.Aggregator.Aggregate(ctx, userID, seriesID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &GetUnifiedResponse{Unified: u}, nil
}

func (s *Server) SelectResume(ctx context.Context, req *SelectResumeRequest) (*SelectResumeResponse, error) {
	if req == nil || strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.SeriesID) == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and series_id required")
	}
	userID := strings.TrimSpace(req.UserID)

	u, err := s.Aggregator.Aggregate(ctx, userID, strings.TrimSpace(req.SeriesID))
	if err != nil {
		return nil, toStatus(err)
	}
	prefs, err := s.Prefs.Get(ctx, userID)
	if err != nil {
		return nil, toStatus(apperr.StoreUnavailable("read preferences", err))
	}
	sel := resume.Select(u, prefs, req.Platform)
	if sel.Reason == resume.ReasonManualOverride {
		if err := s.Prefs.RecordChoice(ctx, userID, sel.Platform); err != nil {
			return nil, toStatus(apperr.StoreUnavailable("record resume choice", err))
		}
	}
	return &SelectResumeResponse{Selection: sel}, nil
}

func (s *Server) ListSeries(ctx context.Context, req *ListSeriesRequest) (*ListSeriesResponse, error) {
	if req == nil || strings.TrimSpace(req.UserID) == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id required")
	}
	statusFilter := series.NormalizeStatus(req.Status)
	if req.Status != "" && statusFilter == "" {
		return nil, status.Error(codes.InvalidArgument, "invalid status filter")
	}

	items, total, err := s.Series.List(ctx, strings.TrimSpace(req.UserID), statusFilter, int(req.Limit), int(req.Offset))
	if err != nil {
		return nil, toStatus(apperr.StoreUnavailable("list series", err))
	}
	return &ListSeriesResponse{Total: int32(total), Limit: req.Limit, Offset: req.Offset, Items: items}, nil
}

// Watch streams the caller's change events until the client goes away.
func (s *Server) Watch(req *WatchRequest, stream WatchStream) error {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return status.Error(codes.InvalidArgument, "user_id required")
	}
	sub := s.Hub.Subscribe(userID)
	defer sub.Close()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return status.Error(codes.ResourceExhausted, "subscriber fell behind, resubscribe")
			}
			if err := stream.Send(&ev); err != nil {
				return err
			}
		}
	}
}
