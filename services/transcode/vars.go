package transcode

import (
	"strconv"

	"airstream/models"
)

// CommandVars builds the placeholder substitution map for one
// conversion: the media's metadata, the per-request video settings and
// the effective bitrate ceiling. Placeholders whose value is unknown
// are left out of the map so Render keeps them untouched.
func CommandVars(media models.MediaRef, video models.VideoSettings, maxBitRate int, inputPath string) map[string]string {
	vars := map[string]string{
		"%s": inputPath,
		"%p": "-",
		"%f": media.Format,
		"%t": media.Title,
		"%a": media.Artist,
		"%l": media.Album,
	}
	if video.OutputPath != "" {
		vars["%p"] = video.OutputPath
	}

	offset := media.StartOffsetSeconds
	if video.TimeOffsetSeconds > 0 {
		offset = video.TimeOffsetSeconds
	}
	vars["%o"] = strconv.Itoa(offset)

	duration := 0
	if video.DurationSeconds > 0 {
		duration = video.DurationSeconds
	} else if media.DurationSeconds != nil {
		duration = *media.DurationSeconds
	}
	if duration > 0 {
		vars["%d"] = strconv.Itoa(duration)
	}

	if maxBitRate > 0 {
		vars["%b"] = strconv.Itoa(maxBitRate)
		vars["%v"] = strconv.Itoa(AverageVideoBitRate(maxBitRate))
		vars["%r"] = strconv.Itoa(SuitableAudioBitRate(maxBitRate))
	}
	if video.Width > 0 && video.Height > 0 {
		vars["%w"] = strconv.Itoa(video.Width)
		vars["%h"] = strconv.Itoa(video.Height)
	}
	if video.AudioTrackIndex >= 0 {
		vars["%x"] = strconv.Itoa(video.AudioTrackIndex)
	}
	if video.SegmentFilename != "" {
		vars["%i"] = strconv.Itoa(video.SegmentIndex)
		vars["%n"] = video.SegmentFilename
	}
	return vars
}

// OutputDimensions picks the encode size for video media: an explicit
// request wins, otherwise the canonical size for the bitrate. Audio
// media gets no dimensions.
func OutputDimensions(media models.MediaRef, requestedWidth, requestedHeight, maxBitRate int) (int, int) {
	if !media.Video {
		return 0, 0
	}
	if requestedWidth > 0 && requestedHeight > 0 {
		return requestedWidth, requestedHeight
	}
	if maxBitRate <= 0 {
		return 0, 0
	}

	sourceWidth, sourceHeight := 0, 0
	if media.Width != nil {
		sourceWidth = *media.Width
	}
	if media.Height != nil {
		sourceHeight = *media.Height
	}
	return SelectSuitableSize(sourceWidth, sourceHeight, maxBitRate)
}
