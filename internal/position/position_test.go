package position

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPixelsToPercentage(t *testing.T) {
	cases := []struct {
		name   string
		offset float64
		height float64
		want   int
	}{
		{"top", 0, 1000, 0},
		{"middle", 500, 1000, 50},
		{"bottom", 1000, 1000, 100},
		{"rounds", 333, 1000, 33},
		{"rounds up", 335, 1000, 34},
		{"negative clamps", -40, 1000, 0},
		{"overscroll clamps", 1400, 1000, 100},
		{"non scrollable", 120, 0, 0},
		{"negative height", 120, -10, 0},
		{"nan offset", math.NaN(), 100, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, PixelsToPercentage(tc.offset, tc.height))
		})
	}
}

func TestRoundTripWithinOnePoint(t *testing.T) {
	for _, h := range []float64{1, 7, 99, 100, 101, 768, 1333, 20000} {
		for p := 0; p <= 100; p++ {
			got := PixelsToPercentage(PercentageToPixels(p, h), h)
			assert.InDeltaf(t, p, got, 1, "p=%d h=%v", p, h)
		}
	}
}

func TestRoundTripPixelsWithinTwo(t *testing.T) {
	for _, h := range []float64{100, 640, 4096} {
		for p := 0; p <= 100; p++ {
			px := PercentageToPixels(p, h)
			back := PercentageToPixels(PixelsToPercentage(px, h), h)
			assert.InDeltaf(t, px, back, 2, "p=%d h=%v", p, h)
		}
	}
}

func TestScrollableHeight(t *testing.T) {
	assert.Equal(t, 1200.0, ScrollableHeight(2000, 800))
	assert.Equal(t, 0.0, ScrollableHeight(600, 800))
}

func TestFromPageIndex(t *testing.T) {
	assert.Equal(t, 0, FromPageIndex(0, 20))
	assert.Equal(t, 50, FromPageIndex(5, 11))
	assert.Equal(t, 100, FromPageIndex(19, 20))
	assert.Equal(t, 100, FromPageIndex(25, 20))
	assert.Equal(t, 0, FromPageIndex(0, 1))
	assert.Equal(t, 0, FromPageIndex(3, 0))
}

func TestIsPositionStillValid(t *testing.T) {
	assert.True(t, IsPositionStillValid(50, 1000))
	assert.True(t, IsPositionStillValid(0, 0))
	assert.False(t, IsPositionStillValid(math.NaN(), 1000))
	assert.False(t, IsPositionStillValid(-1, 1000))
	assert.False(t, IsPositionStillValid(101, 1000))
}

func TestShrunkContentResetsToTop(t *testing.T) {
	stored := 50.0
	assert.True(t, IsPositionStillValid(stored, 2400))

	// the chapter now fits in one viewport
	assert.False(t, IsPositionStillValid(stored, 0))
	assert.Equal(t, 0, Restore(stored, 0))
	assert.Equal(t, 50, Restore(stored, 2400))
}
