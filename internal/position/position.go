// Package position converts raw scroll and page signals into the 0-100
// position percentage stored with every progress record.
package position

import "math"

const (
	MinPercent = 0
	MaxPercent = 100
)

// ScrollableHeight is how far a document can actually scroll.
func ScrollableHeight(documentHeight, viewportHeight float64) float64 {
	h := documentHeight - viewportHeight
	if h < 0 || math.IsNaN(h) {
		return 0
	}
	return h
}

// PixelsToPercentage maps a scroll offset onto [0,100]. A page that cannot
// scroll reports 0.
func PixelsToPercentage(offset, scrollableHeight float64) int {
	if scrollableHeight <= 0 || math.IsNaN(scrollableHeight) || math.IsNaN(offset) {
		return 0
	}
	o := math.Max(0, math.Min(offset, scrollableHeight))
	return int(math.Round(o / scrollableHeight * 100))
}

// PercentageToPixels is the inverse of PixelsToPercentage. The result is not
// rounded to whole pixels so the round trip stays within one point even for
// tiny heights.
func PercentageToPixels(percent int, scrollableHeight float64) float64 {
	if scrollableHeight <= 0 || math.IsNaN(scrollableHeight) {
		return 0
	}
	p := clampPercent(percent)
	return float64(p) / 100 * scrollableHeight
}

// FromPageIndex handles paged readers. index is zero based; the last page is
// 100 and a single-page chapter is 0.
func FromPageIndex(index, count int) int {
	if count <= 1 || index <= 0 {
		return 0
	}
	if index >= count-1 {
		return MaxPercent
	}
	return int(math.Round(float64(index) / float64(count-1) * 100))
}

// IsPositionStillValid reports whether a stored percentage can be restored
// against the current layout. Content that shrank below one viewport only
// keeps a zero position.
func IsPositionStillValid(percent float64, scrollableHeight float64) bool {
	if math.IsNaN(percent) || percent < MinPercent || percent > MaxPercent {
		return false
	}
	if scrollableHeight <= 0 && percent != 0 {
		return false
	}
	return true
}

// Restore returns the percentage to resume at, falling back to 0 when the
// stored value is stale.
func Restore(percent float64, scrollableHeight float64) int {
	if !IsPositionStillValid(percent, scrollableHeight) {
		return 0
	}
	return int(math.Round(percent))
}

// Valid reports whether p is an acceptable stored percentage.
func Valid(p int) bool {
	return p >= MinPercent && p <= MaxPercent
}

func clampPercent(p int) int {
	if p < MinPercent {
		return MinPercent
	}
	if p > MaxPercent {
		return MaxPercent
	}
	return p
}
