package hls

import (
	"fmt"
	"strings"

	"airstream/services/transcode"
)

// Signer appends an access signature to a URL. Segment and playlist
// URLs are each signed individually so external HLS players need no
// other credentials.
type Signer interface {
	Sign(rawURL string) string
}

// BitrateDimension is one playback candidate: a peak bitrate and the
// output frame size it maps to. Width/Height of 0 mean audio-only or
// unknown dimensions.
type BitrateDimension struct {
	BitRateKbps int
	Width       int
	Height      int
}

// SizeSpec renders the dimensions as "WxH", or "" when unknown.
func (b BitrateDimension) SizeSpec() string {
	if b.Width <= 0 || b.Height <= 0 {
		return ""
	}
	return fmt.Sprintf("%dx%d", b.Width, b.Height)
}

// RenderVariant renders the top-level variant playlist: one STREAM-INF
// entry per candidate, each pointing back at the single-rendition form
// of this same endpoint. Output is byte-identical for fixed inputs.
func RenderVariant(mediaID, playerID string, pairs []BitrateDimension, signer Signer) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")

	for _, pair := range pairs {
		bandwidth := pair.BitRateKbps * 1000
		average := transcode.AverageVideoBitRate(pair.BitRateKbps) * 1000
		b.WriteString(fmt.Sprintf("#EXT-X-STREAM-INF:BANDWIDTH=%d,AVERAGE-BANDWIDTH=%d", bandwidth, average))
		if spec := pair.SizeSpec(); spec != "" {
			b.WriteString(",RESOLUTION=" + spec)
		}
		b.WriteString("\n")

		u := fmt.Sprintf("/hls.m3u8?id=%s&player=%s&maxBitRate=%d", mediaID, playerID, pair.BitRateKbps)
		if spec := pair.SizeSpec(); spec != "" {
			u += "@" + spec
		}
		b.WriteString(signer.Sign(u))
		b.WriteString("\n")
	}
	return b.String()
}

// RenderSingle renders a single-rendition playlist with fixed-length
// segments: one EXTINF entry per whole window, a shorter remainder
// entry when the duration does not divide evenly, and a terminating
// end-of-list marker. Output is byte-identical for fixed inputs.
func RenderSingle(mediaID, playerID string, pair BitrateDimension, totalDurationSeconds, segmentDurationSeconds, audioTrack int, signer Signer) string {
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	b.WriteString("#EXT-X-VERSION:3\n")
	b.WriteString(fmt.Sprintf("#EXT-X-TARGETDURATION:%d\n", segmentDurationSeconds))

	fullSegments := totalDurationSeconds / segmentDurationSeconds
	remainder := totalDurationSeconds % segmentDurationSeconds

	for i := 0; i < fullSegments; i++ {
		b.WriteString(fmt.Sprintf("#EXTINF:%d,\n", segmentDurationSeconds))
		b.WriteString(signer.Sign(segmentURL(mediaID, playerID, pair, i, segmentDurationSeconds, audioTrack)))
		b.WriteString("\n")
	}
	if remainder > 0 {
		b.WriteString(fmt.Sprintf("#EXTINF:%d,\n", remainder))
		b.WriteString(signer.Sign(segmentURL(mediaID, playerID, pair, fullSegments, segmentDurationSeconds, audioTrack)))
		b.WriteString("\n")
	}

	b.WriteString("#EXT-X-ENDLIST\n")
	return b.String()
}

func segmentURL(mediaID, playerID string, pair BitrateDimension, index, segmentDuration, audioTrack int) string {
	u := fmt.Sprintf("/segment.ts?id=%s&segmentIndex=%d&player=%s&duration=%d&maxBitRate=%d",
		mediaID, index, playerID, segmentDuration, pair.BitRateKbps)
	if spec := pair.SizeSpec(); spec != "" {
		u += "&size=" + spec
	}
	if audioTrack >= 0 {
		u += fmt.Sprintf("&audioTrack=%d", audioTrack)
	}
	return u
}
