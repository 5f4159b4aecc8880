package transcode

import "math"

// canonical width per peak-bitrate band. Heights follow 16:9.
var widthBands = []struct {
	belowKbps int
	width     int
}{
	{400, 416},
	{800, 480},
	{1200, 640},
	{2200, 768},
	{3300, 960},
	{8600, 1280},
}

const maxCanonicalWidth = 1920

// SelectSuitableSize picks the output dimensions for a video transcode.
// sourceWidth/sourceHeight of 0 mean unknown. The result is always
// even-sided (required by common encoders) and the function is
// idempotent: feeding its output back with the same peak bitrate
// returns the same dimensions.
func SelectSuitableSize(sourceWidth, sourceHeight, peakKbps int) (int, int) {
	canonW := maxCanonicalWidth
	for _, band := range widthBands {
		if peakKbps < band.belowKbps {
			canonW = band.width
			break
		}
	}
	canonH := evenFloor(canonW * 9 / 16)

	if sourceWidth <= 0 || sourceHeight <= 0 {
		return canonW, evenFloor(canonH)
	}

	// Never upscale a source smaller than the canonical frame.
	if sourceWidth <= canonW && sourceHeight <= canonH {
		return evenFloor(sourceWidth), evenFloor(sourceHeight)
	}

	// Rescale to the canonical width preserving the source aspect ratio.
	scaled := int(math.Round(float64(canonW) * float64(sourceHeight) / float64(sourceWidth)))
	return evenFloor(canonW), evenFloor(scaled)
}

func evenFloor(v int) int {
	return v - v%2
}

// AverageVideoBitRate maps a peak video bitrate to the average bitrate
// advertised in variant playlists. The discrete breakpoints are a
// compatibility surface for third-party HLS players and must not be
// smoothed.
func AverageVideoBitRate(peakKbps int) int {
	switch peakKbps {
	case 200:
		return 145
	case 400:
		return 365
	case 800:
		return 730
	case 1200:
		return 1100
	case 2200:
		return 2000
	case 3300:
		return 3000
	case 5000:
		return 4500
	case 6500:
		return 6000
	default:
		return int(math.Round(float64(peakKbps) * 0.9))
	}
}

// SuitableAudioBitRate picks the audio bitrate paired with a given peak
// video bitrate.
func SuitableAudioBitRate(peakVideoKbps int) int {
	switch {
	case peakVideoKbps < 400:
		return 64
	case peakVideoKbps < 600:
		return 80
	case peakVideoKbps < 1800:
		return 96
	default:
		return 128
	}
}
