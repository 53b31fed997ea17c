package sync

import (
	"sort"
	"sync"

	"mangasync/internal/aggregate"
	"mangasync/internal/resolve"
	"mangasync/pkg/models"
)

// DeletePolicy decides what a DELETE notification does to local state.
type DeletePolicy string

const (
	// DeletePolicyIgnore keeps the last known record; deletions do not
	// propagate.
	DeletePolicyIgnore DeletePolicy = "ignore"
	// DeletePolicyDemote drops the deleted platform record so the next best
	// record becomes current.
	DeletePolicyDemote DeletePolicy = "demote"
)

func ParseDeletePolicy(s string) DeletePolicy {
	if DeletePolicy(s) == DeletePolicyDemote {
		return DeletePolicyDemote
	}
	return DeletePolicyIgnore
}

// Mirror is a client's local copy of its progress records. Every change is
// merged through the resolver, so any delivery order converges to what a
// fresh aggregate read returns.
type Mirror struct {
	mu      sync.Mutex
	policy  DeletePolicy
	records map[string]map[string]models.ProgressRecord
	closed  bool
}

func NewMirror(policy DeletePolicy) *Mirror {
	return &Mirror{policy: policy, records: make(map[string]map[string]models.ProgressRecord)}
}

// Seed loads records from a full read, merging them like live updates.
func (m *Mirror) Seed(records []models.ProgressRecord) {
	for _, r := range records {
		r := r
		m.Apply(ChangeEvent{Type: EventUpdate, UserID: r.UserID, New: &r})
	}
}

// Apply merges one notification. changed is false when the local record
// already wins, the event is an ignored DELETE, or the mirror is closed.
func (m *Mirror) Apply(ev ChangeEvent) (ConflictUpdate, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ConflictUpdate{}, false
	}

	if ev.Type == EventDelete {
		return m.applyDeleteLocked(ev)
	}

	cu, ok := ev.ConflictUpdate()
	if !ok {
		return ConflictUpdate{}, false
	}
	platforms := m.records[cu.SeriesID]
	var existing *models.ProgressRecord
	if r, ok := platforms[cu.Platform]; ok {
		existing = &r
	}
	res := resolve.Resolve(&cu.Record, existing)
	if !res.IncomingWon {
		return cu, false
	}
	if platforms == nil {
		platforms = make(map[string]models.ProgressRecord)
		m.records[cu.SeriesID] = platforms
	}
	platforms[cu.Platform] = *res.Winner
	cu.Record = *res.Winner
	return cu, true
}

func (m *Mirror) applyDeleteLocked(ev ChangeEvent) (ConflictUpdate, bool) {
	if m.policy != DeletePolicyDemote || ev.Old == nil {
		return ConflictUpdate{}, false
	}
	platforms := m.records[ev.Old.SeriesID]
	stored, ok := platforms[ev.Old.Platform]
	// a newer write for the platform arrived before the delete
	if !ok || resolve.Compare(&stored, ev.Old) > 0 {
		return ConflictUpdate{}, false
	}
	delete(platforms, ev.Old.Platform)
	if len(platforms) == 0 {
		delete(m.records, ev.Old.SeriesID)
	}
	return ConflictUpdate{SeriesID: ev.Old.SeriesID, Platform: ev.Old.Platform, Record: *ev.Old}, true
}

// Unified is the local equivalent of an aggregate read.
func (m *Mirror) Unified(seriesID string) *models.UnifiedProgress {
	m.mu.Lock()
	records := make([]models.ProgressRecord, 0, len(m.records[seriesID]))
	for _, r := range m.records[seriesID] {
		records = append(records, r)
	}
	m.mu.Unlock()

	u, _ := aggregate.Build(seriesID, records)
	return u
}

func (m *Mirror) SeriesIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.records))
	for id := range m.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close discards the mirror; merges racing with Close are dropped whole.
func (m *Mirror) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
