package transcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSelectSuitableSizeCanonicalWidths(t *testing.T) {
	cases := []struct {
		peak  int
		width int
	}{
		{200, 416},
		{399, 416},
		{400, 480},
		{799, 480},
		{800, 640},
		{1200, 768},
		{2200, 960},
		{3300, 1280},
		{8600, 1920},
		{20000, 1920},
	}
	for _, tc := range cases {
		w, h := SelectSuitableSize(0, 0, tc.peak)
		assert.Equal(t, tc.width, w, "peak %d", tc.peak)
		assert.Equal(t, evenFloor(tc.width*9/16), h, "peak %d", tc.peak)
	}
}

func TestSelectSuitableSizeNeverUpscales(t *testing.T) {
	w, h := SelectSuitableSize(320, 240, 2200) // canonical would be 960x540
	assert.Equal(t, 320, w)
	assert.Equal(t, 240, h)
}

func TestSelectSuitableSizePreservesAspectRatio(t *testing.T) {
	// 1000x500 source at 1000 kbps: canonical width 640, 2:1 aspect.
	w, h := SelectSuitableSize(1000, 500, 1000)
	assert.Equal(t, 640, w)
	assert.Equal(t, 320, h)
}

func TestSelectSuitableSizeAlwaysEven(t *testing.T) {
	for _, dims := range [][2]int{{641, 361}, {333, 777}, {1919, 1079}} {
		for _, peak := range []int{200, 1000, 5000, 10000} {
			w, h := SelectSuitableSize(dims[0], dims[1], peak)
			assert.Zero(t, w%2, "width %dx%d@%d", dims[0], dims[1], peak)
			assert.Zero(t, h%2, "height %dx%d@%d", dims[0], dims[1], peak)
		}
	}
}

func TestSelectSuitableSizeIdempotent(t *testing.T) {
	for _, dims := range [][2]int{{1920, 1080}, {1000, 500}, {500, 800}, {333, 777}} {
		for _, peak := range []int{200, 1000, 2200, 10000} {
			w1, h1 := SelectSuitableSize(dims[0], dims[1], peak)
			w2, h2 := SelectSuitableSize(w1, h1, peak)
			assert.Equal(t, w1, w2, "width %v@%d", dims, peak)
			assert.Equal(t, h1, h2, "height %v@%d", dims, peak)
		}
	}
}

func TestAverageVideoBitRateTable(t *testing.T) {
	cases := map[int]int{
		200:  145,
		400:  365,
		800:  730,
		1200: 1100,
		2200: 2000,
		3300: 3000,
		5000: 4500,
		6500: 6000,
		// unlisted peaks fall back to round(0.9 * peak)
		1000: 900,
		777:  699,
	}
	for peak, want := range cases {
		assert.Equal(t, want, AverageVideoBitRate(peak), "peak %d", peak)
	}
}

func TestSuitableAudioBitRate(t *testing.T) {
	assert.Equal(t, 64, SuitableAudioBitRate(200))
	assert.Equal(t, 80, SuitableAudioBitRate(400))
	assert.Equal(t, 96, SuitableAudioBitRate(1200))
	assert.Equal(t, 128, SuitableAudioBitRate(2200))
}
