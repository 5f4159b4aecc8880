package hls

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// stubSigner appends a fixed token so manifests remain deterministic.
type stubSigner struct{}

func (stubSigner) Sign(rawURL string) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + "sig=TOKEN"
}

func TestRenderSingleWithRemainder(t *testing.T) {
	got := RenderSingle("m1", "p1", BitrateDimension{BitRateKbps: 1200, Width: 640, Height: 360}, 25, 10, 0, stubSigner{})

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-TARGETDURATION:10\n" +
		"#EXTINF:10,\n" +
		"/segment.ts?id=m1&segmentIndex=0&player=p1&duration=10&maxBitRate=1200&size=640x360&audioTrack=0&sig=TOKEN\n" +
		"#EXTINF:10,\n" +
		"/segment.ts?id=m1&segmentIndex=1&player=p1&duration=10&maxBitRate=1200&size=640x360&audioTrack=0&sig=TOKEN\n" +
		"#EXTINF:5,\n" +
		"/segment.ts?id=m1&segmentIndex=2&player=p1&duration=10&maxBitRate=1200&size=640x360&audioTrack=0&sig=TOKEN\n" +
		"#EXT-X-ENDLIST\n"

	assert.Equal(t, want, got)
}

func TestRenderSingleExactMultiple(t *testing.T) {
	got := RenderSingle("m1", "p1", BitrateDimension{BitRateKbps: 800}, 20, 10, -1, stubSigner{})

	assert.Equal(t, 2, strings.Count(got, "#EXTINF:10,"))
	assert.NotContains(t, got, "#EXTINF:0,")
	assert.True(t, strings.HasSuffix(got, "#EXT-X-ENDLIST\n"))
	// exactly two segment URLs, indexes 0 and 1
	assert.Contains(t, got, "segmentIndex=0")
	assert.Contains(t, got, "segmentIndex=1")
	assert.NotContains(t, got, "segmentIndex=2")
	// audio-only rendition carries no size or audioTrack parameters
	assert.NotContains(t, got, "size=")
	assert.NotContains(t, got, "audioTrack=")
}

func TestRenderSingleDeterministic(t *testing.T) {
	pair := BitrateDimension{BitRateKbps: 2200, Width: 960, Height: 540}
	first := RenderSingle("m9", "p2", pair, 95, 10, 1, stubSigner{})
	second := RenderSingle("m9", "p2", pair, 95, 10, 1, stubSigner{})
	assert.Equal(t, first, second)
}

func TestRenderVariant(t *testing.T) {
	pairs := []BitrateDimension{
		{BitRateKbps: 400, Width: 480, Height: 270},
		{BitRateKbps: 1200, Width: 768, Height: 432},
	}
	got := RenderVariant("m1", "p1", pairs, stubSigner{})

	want := "#EXTM3U\n" +
		"#EXT-X-VERSION:3\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=400000,AVERAGE-BANDWIDTH=365000,RESOLUTION=480x270\n" +
		"/hls.m3u8?id=m1&player=p1&maxBitRate=400@480x270&sig=TOKEN\n" +
		"#EXT-X-STREAM-INF:BANDWIDTH=1200000,AVERAGE-BANDWIDTH=1100000,RESOLUTION=768x432\n" +
		"/hls.m3u8?id=m1&player=p1&maxBitRate=1200@768x432&sig=TOKEN\n"

	assert.Equal(t, want, got)
}

func TestRenderVariantUnlistedBitrateAverage(t *testing.T) {
	got := RenderVariant("m1", "p1", []BitrateDimension{{BitRateKbps: 1000}}, stubSigner{})

	// 1000 kbps is not a table breakpoint: average = round(0.9 * peak)
	assert.Contains(t, got, "BANDWIDTH=1000000,AVERAGE-BANDWIDTH=900000")
	assert.NotContains(t, got, "RESOLUTION=")
}
