package models

import "strings"

// MediaRef is an immutable snapshot of one media file, captured for the
// lifetime of a single request. Nullable probe fields use pointers so a
// missing value is distinguishable from zero.
type MediaRef struct {
	ID     string `json:"id"`
	Path   string `json:"path"`   // relative to the library root
	Folder string `json:"folder"` // top-level library folder
	Format string `json:"format"` // container/codec suffix, e.g. "mp3", "mkv"
	Title  string `json:"title"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`

	DurationSeconds *int `json:"durationSeconds,omitempty"`
	BitRate         *int `json:"bitRate,omitempty"` // kbps
	Width           *int `json:"width,omitempty"`
	Height          *int `json:"height,omitempty"`

	Video bool `json:"video"`

	// IndexedTrack marks a virtual sub-range of a larger physical file
	// (a CUE sheet track). StartOffsetSeconds is the position of the
	// track inside that file.
	IndexedTrack       bool `json:"indexedTrack,omitempty"`
	StartOffsetSeconds int  `json:"startOffsetSeconds,omitempty"`

	FileSizeBytes int64 `json:"fileSizeBytes,omitempty"`
}

// FormatEquals compares container formats case-insensitively.
func (m MediaRef) FormatEquals(format string) bool {
	return strings.EqualFold(m.Format, format)
}
