package models

// VideoSettings carries the per-request parameters of one video
// conversion. Built for a single request and never persisted.
type VideoSettings struct {
	Width             int
	Height            int
	TimeOffsetSeconds int
	DurationSeconds   int
	AudioTrackIndex   int

	// HLS-only fields, zero values when not segmenting.
	SegmentIndex    int
	SegmentFilename string
	OutputPath      string
}
