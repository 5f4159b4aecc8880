package models

import "time"

const (
	// DefaultPlayerName is used when creating the initial player profile.
	DefaultPlayerName = "Default Player"
)

// Player models a playback client profile. SchemeKbps is the per-player
// transcode bitrate ceiling; zero means no ceiling ("off").
type Player struct {
	ID                   string    `json:"id"`
	Username             string    `json:"username"`
	SchemeKbps           int       `json:"schemeKbps"`
	ActiveTranscodingIDs []string  `json:"activeTranscodingIds"`
	CreatedAt            time.Time `json:"createdAt"`
	LastSeen             time.Time `json:"lastSeen"`
}

// HasTranscoding reports whether the given transcoding rule is enabled
// for this player.
func (p Player) HasTranscoding(transcodingID string) bool {
	for _, id := range p.ActiveTranscodingIDs {
		if id == transcodingID {
			return true
		}
	}
	return false
}
