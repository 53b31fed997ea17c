// Package resolve picks a winner between progress records for the same
// series. The same ordering is used for same-key overwrites at ingestion,
// cross-platform selection at aggregation and merges on live clients.
package resolve

import (
	"strings"

	"mangasync/pkg/models"
)

const LastWriteWins = "last-write-wins"

type Resolution struct {
	Winner      *models.ProgressRecord
	IncomingWon bool
	ResolvedBy  string
}

// Compare orders two records: it returns 1 when a should win over b, -1 when
// b should win, and 0 only for records that are indistinguishable.
//
// Order: newer UpdatedAt, higher chapter, smaller platform name. Two
// further keys only matter for records sharing a key (same platform):
// higher position, then smaller source URL.
func Compare(a, b *models.ProgressRecord) int {
	switch {
	case a == nil && b == nil:
		return 0
	case b == nil:
		return 1
	case a == nil:
		return -1
	}

	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		if a.UpdatedAt.After(b.UpdatedAt) {
			return 1
		}
		return -1
	}
	if a.ChapterNumber != b.ChapterNumber {
		if a.ChapterNumber > b.ChapterNumber {
			return 1
		}
		return -1
	}
	if c := strings.Compare(a.Platform, b.Platform); c != 0 {
		return -c
	}
	if a.PositionPercent != b.PositionPercent {
		if a.PositionPercent > b.PositionPercent {
			return 1
		}
		return -1
	}
	return -strings.Compare(a.SourceURL, b.SourceURL)
}

// Resolve never mutates its inputs. The winner is a copy of the winning
// record carrying ResolvedBy. Indistinguishable records keep existing so a
// retried event is a no-op.
func Resolve(incoming, existing *models.ProgressRecord) Resolution {
	if incoming == nil && existing == nil {
		return Resolution{}
	}
	won := existing
	incomingWon := Compare(incoming, existing) > 0
	if incomingWon {
		won = incoming
	}
	w := *won
	w.ResolvedBy = LastWriteWins
	return Resolution{Winner: &w, IncomingWon: incomingWon, ResolvedBy: LastWriteWins}
}

// Winner folds records pairwise through Resolve. It returns the index of the
// winner in records, or -1 for an empty slice.
func Winner(records []models.ProgressRecord) int {
	best := -1
	for i := range records {
		if best < 0 || Compare(&records[i], &records[best]) > 0 {
			best = i
		}
	}
	return best
}
