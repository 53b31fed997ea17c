// Package ingest is the entry point for progress reports: it validates an
// event, resolves the series it belongs to and writes the per-platform
// record through the conflict resolver.
package ingest

import (
	"context"
	"log"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"mangasync/internal/apperr"
	"mangasync/internal/position"
	"mangasync/internal/resolve"
	"mangasync/internal/series"
	synchub "mangasync/internal/sync"
	"mangasync/pkg/models"
	"mangasync/pkg/ttlstore"
)

const UnknownPlatform = "unknown"

type SeriesStore interface {
	FindByNormalizedTitle(ctx context.Context, userID, normalized string) ([]models.SeriesRecord, error)
	Create(ctx context.Context, s models.SeriesRecord) error
	Touch(ctx context.Context, s models.SeriesRecord) error
	DeleteMany(ctx context.Context, userID string, ids []string) ([]models.ProgressRecord, error)
}

type ProgressStore interface {
	Get(ctx context.Context, key models.ProgressKey) (*models.ProgressRecord, error)
	Upsert(ctx context.Context, rec models.ProgressRecord) (bool, error)
	ListBySeries(ctx context.Context, userID, seriesID string) ([]models.ProgressRecord, error)
}

// Publisher receives every applied progress write.
type Publisher interface {
	Publish(ev synchub.ChangeEvent)
}

type Policy struct {
	// RetrogradeTolerance bounds how far behind the last accepted event of
	// the same (user, series, platform) a new event may be. 0 disables.
	RetrogradeTolerance time.Duration
	// MinSyncInterval is what clients are told to wait between sends.
	MinSyncInterval time.Duration
}

func DefaultPolicy() Policy {
	return Policy{RetrogradeTolerance: 10 * time.Minute, MinSyncInterval: 5 * time.Second}
}

type Request struct {
	UserID          string
	Platform        string
	SeriesTitle     string
	ChapterNumber   float64
	PositionPercent int
	ObservedAt      time.Time
	SourceURL       string
}

type Result struct {
	Series     models.SeriesRecord
	Record     models.ProgressRecord
	Applied    bool
	Skipped    bool
	SyncedAt   time.Time
	NextSyncIn time.Duration
}

type Gate struct {
	Series    SeriesStore
	Progress  ProgressStore
	Publisher Publisher
	Logger    *log.Logger
	Now       func() time.Time

	policy   atomic.Pointer[Policy]
	accepted atomic.Pointer[acceptedLog]
}

const acceptedSize = 50_000

// acceptedLog remembers the last accepted event time per (user, series,
// platform). Entries must outlive the retrograde tolerance or the check
// silently stops applying.
type acceptedLog struct {
	ttl   time.Duration
	store *ttlstore.LRU[time.Time]
}

func acceptedTTL(tolerance time.Duration) time.Duration {
	return max(2*tolerance, time.Hour)
}

func NewGate(seriesStore SeriesStore, progressStore ProgressStore, pub Publisher, policy Policy, logger *log.Logger) *Gate {
	if logger == nil {
		logger = log.Default()
	}
	g := &Gate{
		Series:    seriesStore,
		Progress:  progressStore,
		Publisher: pub,
		Logger:    logger,
		Now:       time.Now,
	}
	g.SetPolicy(policy)
	return g
}

func (g *Gate) SetPolicy(p Policy) {
	if p.RetrogradeTolerance < 0 {
		p.RetrogradeTolerance = 0
	}
	if p.MinSyncInterval <= 0 {
		p.MinSyncInterval = DefaultPolicy().MinSyncInterval
	}
	g.policy.Store(&p)
	g.acceptedFor(p.RetrogradeTolerance)
}

// Policy returns DefaultPolicy until SetPolicy has run.
func (g *Gate) Policy() Policy {
	if p := g.policy.Load(); p != nil {
		return *p
	}
	return DefaultPolicy()
}

// acceptedFor returns a log whose entries live long enough for tolerance,
// growing the current one and carrying its entries over when needed. The
// log never shrinks.
func (g *Gate) acceptedFor(tolerance time.Duration) *acceptedLog {
	ttl := acceptedTTL(tolerance)
	for {
		cur := g.accepted.Load()
		if cur != nil && cur.ttl >= ttl {
			return cur
		}
		next := &acceptedLog{ttl: ttl, store: ttlstore.New[time.Time](acceptedSize, ttl)}
		if cur != nil {
			cur.store.Range(next.store.Set)
		}
		if g.accepted.CompareAndSwap(cur, next) {
			return next
		}
	}
}

func (g *Gate) now() time.Time {
	if g.Now == nil {
		return time.Now()
	}
	return g.Now()
}

func (g *Gate) logger() *log.Logger {
	if g.Logger == nil {
		return log.Default()
	}
	return g.Logger
}

// Validate checks the payload constraints. It has no side effects.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.SeriesTitle) == "":
		return apperr.InvalidPayload("seriesTitle required")
	case math.IsNaN(r.ChapterNumber) || math.IsInf(r.ChapterNumber, 0) || r.ChapterNumber <= 0:
		return apperr.InvalidPayload("chapter must be > 0")
	case !position.Valid(r.PositionPercent):
		return apperr.InvalidPayload("scrollPosition must be between 0 and 100")
	case r.ObservedAt.IsZero() || r.ObservedAt.UnixMilli() <= 0:
		return apperr.InvalidPayload("timestamp must be > 0")
	}
	return nil
}

func NormalizePlatform(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return UnknownPlatform
	}
	return p
}

func (g *Gate) Ingest(ctx context.Context, req Request) (Result, error) {
	if err := req.Validate(); err != nil {
		return Result{}, err
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return Result{}, apperr.Unauthorized("no user could be resolved")
	}
	normalized := series.NormalizeTitle(req.SeriesTitle)
	if normalized == "" {
		return Result{}, apperr.InvalidPayload("seriesTitle must contain letters or digits")
	}

	platform := NormalizePlatform(req.Platform)
	observedAt := req.ObservedAt.UTC().Truncate(time.Millisecond)
	policy := g.Policy()
	now := g.now().UTC()
	result := Result{SyncedAt: now, NextSyncIn: policy.MinSyncInterval}

	accepted := g.acceptedFor(policy.RetrogradeTolerance).store
	acceptedKey := ttlstore.Key(userID, normalized, platform)
	last, seen := accepted.Get(acceptedKey)
	if seen && policy.RetrogradeTolerance > 0 && observedAt.Before(last.Add(-policy.RetrogradeTolerance)) {
		g.logger().Printf("[ingest] skipping retrograde event user=%s series=%q platform=%s observed=%s last=%s",
			userID, normalized, platform, observedAt.Format(time.RFC3339), last.Format(time.RFC3339))
		result.Skipped = true
		return result, nil
	}

	s, err := g.resolveSeries(ctx, userID, req, normalized, observedAt)
	if err != nil {
		return Result{}, err
	}
	result.Series = s

	incoming := models.ProgressRecord{
		UserID:          userID,
		SeriesID:        s.ID,
		Platform:        platform,
		ChapterNumber:   req.ChapterNumber,
		PositionPercent: req.PositionPercent,
		SourceURL:       strings.TrimSpace(req.SourceURL),
		UpdatedAt:       observedAt,
		LastReadAt:      observedAt,
	}
	rec, applied, err := g.write(ctx, incoming)
	if err != nil {
		return Result{}, err
	}
	result.Record = rec
	result.Applied = applied

	if !seen || observedAt.After(last) {
		accepted.Set(acceptedKey, observedAt)
	}
	return result, nil
}

// write stores incoming when it wins against the current row for its key.
func (g *Gate) write(ctx context.Context, incoming models.ProgressRecord) (models.ProgressRecord, bool, error) {
	existing, err := g.Progress.Get(ctx, incoming.Key())
	if err != nil {
		return models.ProgressRecord{}, false, apperr.StoreUnavailable("read progress", err)
	}

	res := resolve.Resolve(&incoming, existing)
	if !res.IncomingWon {
		return *res.Winner, false, nil
	}

	applied, err := g.Progress.Upsert(ctx, incoming)
	if err != nil {
		return models.ProgressRecord{}, false, apperr.StoreUnavailable("save progress", err)
	}
	if !applied {
		// a concurrent writer stored a newer row between Get and Upsert
		current, err := g.Progress.Get(ctx, incoming.Key())
		if err != nil {
			return models.ProgressRecord{}, false, apperr.StoreUnavailable("read progress", err)
		}
		if current == nil {
			return *res.Winner, false, nil
		}
		current.ResolvedBy = resolve.LastWriteWins
		return *current, false, nil
	}

	ev := synchub.ChangeEvent{Type: synchub.EventInsert, UserID: incoming.UserID, New: res.Winner, At: g.now().UTC()}
	if existing != nil {
		ev.Type = synchub.EventUpdate
		ev.Old = existing
	}
	if g.Publisher != nil {
		g.Publisher.Publish(ev)
	}
	return *res.Winner, true, nil
}

func (g *Gate) resolveSeries(ctx context.Context, userID string, req Request, normalized string, observedAt time.Time) (models.SeriesRecord, error) {
	found, err := g.Series.FindByNormalizedTitle(ctx, userID, normalized)
	if err != nil {
		return models.SeriesRecord{}, apperr.StoreUnavailable("resolve series", err)
	}

	if len(found) == 0 {
		s := models.SeriesRecord{
			ID:              uuid.NewString(),
			UserID:          userID,
			Title:           strings.TrimSpace(req.SeriesTitle),
			NormalizedTitle: normalized,
			Status:          models.StatusReading,
			ChapterNumber:   req.ChapterNumber,
			PositionPercent: req.PositionPercent,
			LastReadAt:      observedAt,
			CreatedAt:       g.now().UTC().Truncate(time.Millisecond),
		}
		if err := g.Series.Create(ctx, s); err != nil {
			return models.SeriesRecord{}, apperr.StoreUnavailable("create series", err)
		}
		return s, nil
	}

	keep := found[0]
	if len(found) > 1 {
		if err := g.heal(ctx, userID, keep, found[1:]); err != nil {
			return models.SeriesRecord{}, err
		}
	}

	keep.ChapterNumber = req.ChapterNumber
	keep.PositionPercent = req.PositionPercent
	keep.LastReadAt = observedAt
	if err := g.Series.Touch(ctx, keep); err != nil {
		return models.SeriesRecord{}, apperr.StoreUnavailable("update series", err)
	}
	return keep, nil
}

// heal folds duplicate series into keep: their progress rows are re-keyed
// through the resolver, then the duplicates are deleted. Subscribers see an
// INSERT or UPDATE for every moved row that won and a DELETE for every row
// removed with its duplicate.
func (g *Gate) heal(ctx context.Context, userID string, keep models.SeriesRecord, dups []models.SeriesRecord) error {
	ids := make([]string, 0, len(dups))
	for _, d := range dups {
		ids = append(ids, d.ID)
		records, err := g.Progress.ListBySeries(ctx, userID, d.ID)
		if err != nil {
			return apperr.StoreUnavailable("merge duplicate series", err)
		}
		for _, r := range records {
			r.SeriesID = keep.ID
			if _, _, err := g.write(ctx, r); err != nil {
				return err
			}
		}
	}
	removed, err := g.Series.DeleteMany(ctx, userID, ids)
	if err != nil {
		return apperr.StoreUnavailable("merge duplicate series", err)
	}
	if g.Publisher != nil {
		at := g.now().UTC()
		for i := range removed {
			g.Publisher.Publish(synchub.ChangeEvent{Type: synchub.EventDelete, UserID: userID, Old: &removed[i], At: at})
		}
	}
	g.logger().Printf("[ingest] merged %d duplicate series into %s for user=%s title=%q", len(ids), keep.ID, userID, keep.NormalizedTitle)
	return nil
}
