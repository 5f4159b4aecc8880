package transcode

import (
	"strings"

	"airstream/config"
	"airstream/models"
)

const (
	// FormatRaw disables transcoding entirely when requested as the
	// preferred format (unless segmented output is required).
	FormatRaw = "raw"

	// formatSegmented is the target container of synthesized
	// segmenting rules.
	formatSegmented = "ts"
)

// Request carries everything a resolution needs. Rules must be the
// player's enabled transcoding rules in configured order.
type Request struct {
	Media  models.MediaRef
	Player models.Player
	Rules  []models.Transcoding

	// UserSchemeKbps is the requesting user's bitrate ceiling
	// (0 = off). The stricter of it and the player's ceiling applies.
	UserSchemeKbps int

	PreferredFormat    string
	MaxBitRateOverride int
	Segmented          bool
}

// Resolved is the outcome of one resolution. EstimatedLength is only
// meaningful when LengthKnown; callers must treat an unknown length as
// "no range requests, no progress bar".
type Resolved struct {
	Rule        *models.Transcoding
	Synthesized bool

	MaxBitRate      int // effective ceiling in kbps, 0 = uncapped
	EstimatedLength int64
	LengthKnown     bool
	RangeSeekable   bool
}

// Active reports whether any conversion will run.
func (r Resolved) Active() bool {
	return r.Rule != nil
}

// Resolver decides whether and how a media file is converted for a
// given player and bitrate, and predicts the properties of the output.
type Resolver struct {
	settings config.TranscodeSettings
}

func NewResolver(settings config.TranscodeSettings) *Resolver {
	return &Resolver{settings: settings}
}

// Resolve implements the selection order: segmenting always wins when
// requested; raw passthrough beats configured rules; configured rules
// beat synthesized downsample/split fallbacks. A rule whose executable
// cannot be located is never returned; resolution silently falls back
// to passthrough instead of failing the request.
func (r *Resolver) Resolve(req Request) Resolved {
	resolved := Resolved{MaxBitRate: r.effectiveMaxBitRate(req)}

	switch {
	case req.Segmented:
		rule := r.segmentingRule(req.Media)
		resolved.Rule = rule
		resolved.Synthesized = rule != nil
	case strings.EqualFold(req.PreferredFormat, FormatRaw):
		// passthrough
	default:
		if rule := r.selectRule(req); rule != nil {
			resolved.Rule = rule
		} else if rule := r.downsampleRule(req, resolved.MaxBitRate); rule != nil {
			resolved.Rule = rule
			resolved.Synthesized = true
		} else if rule := r.splitRule(req.Media); rule != nil {
			resolved.Rule = rule
			resolved.Synthesized = true
		}
	}

	resolved.EstimatedLength, resolved.LengthKnown = r.estimateLength(req.Media, resolved)
	resolved.RangeSeekable = r.rangeSeekable(resolved)
	return resolved
}

// effectiveMaxBitRate is the override when given, otherwise the
// stricter of the player's and the user's ceiling. Zero disables
// capping.
func (r *Resolver) effectiveMaxBitRate(req Request) int {
	if req.MaxBitRateOverride > 0 {
		return req.MaxBitRateOverride
	}
	player := req.Player.SchemeKbps
	user := req.UserSchemeKbps
	switch {
	case player > 0 && user > 0:
		if player < user {
			return player
		}
		return user
	case player > 0:
		return player
	default:
		return user
	}
}

// selectRule enumerates the player's enabled rules. A rule applies when
// its executables resolve and either the media is video and the rule
// targets the preferred format, or the rule's source set contains the
// media's format. A rule targeting the preferred format is preferred
// over the first applicable one.
func (r *Resolver) selectRule(req Request) *models.Transcoding {
	var first *models.Transcoding
	for i := range req.Rules {
		rule := &req.Rules[i]
		if !IsRunnable(rule.Steps(), r.settings.Directory) {
			continue
		}
		matchesPreferred := req.PreferredFormat != "" &&
			strings.EqualFold(rule.TargetFormat, req.PreferredFormat)
		applicable := (req.Media.Video && matchesPreferred) ||
			rule.AcceptsSource(req.Media.Format)
		if !applicable {
			continue
		}
		if matchesPreferred {
			return rule
		}
		if first == nil {
			first = rule
		}
	}
	return first
}

func (r *Resolver) segmentingRule(media models.MediaRef) *models.Transcoding {
	rule := models.Transcoding{
		Name:          "hls",
		SourceFormats: media.Format,
		TargetFormat:  formatSegmented,
		Step1:         r.settings.HLSCommand,
	}
	if !IsRunnable(rule.Steps(), r.settings.Directory) {
		return nil
	}
	return &rule
}

// downsampleRule applies only when an explicit ceiling is in force, the
// media's own bitrate exceeds it, and the format supports downsampling
// (audio mp3 only).
func (r *Resolver) downsampleRule(req Request, maxBitRate int) *models.Transcoding {
	if maxBitRate <= 0 || req.Media.BitRate == nil || *req.Media.BitRate <= maxBitRate {
		return nil
	}
	if req.Media.Video || !req.Media.FormatEquals("mp3") {
		return nil
	}
	rule := models.Transcoding{
		Name:          "downsample",
		SourceFormats: req.Media.Format,
		TargetFormat:  req.Media.Format,
		Step1:         r.settings.DownsampleCommand,
	}
	if !IsRunnable(rule.Steps(), r.settings.Directory) {
		return nil
	}
	return &rule
}

// splitRule keeps sub-range playback of indexed (CUE) tracks working
// when no configured rule was chosen: the source is re-cut without
// re-encoding.
func (r *Resolver) splitRule(media models.MediaRef) *models.Transcoding {
	if !media.IndexedTrack {
		return nil
	}
	rule := models.Transcoding{
		Name:          "split",
		SourceFormats: media.Format,
		TargetFormat:  media.Format,
		Step1:         r.settings.SplitCommand,
	}
	if !IsRunnable(rule.Steps(), r.settings.Directory) {
		return nil
	}
	return &rule
}

// estimateLength predicts the byte length of the response. Passthrough
// is the exact file size; a transcoded stream is bounded by bitrate and
// duration plus configured padding, unknown when either is missing.
func (r *Resolver) estimateLength(media models.MediaRef, resolved Resolved) (int64, bool) {
	if !resolved.Active() {
		return media.FileSizeBytes, true
	}
	if media.DurationSeconds == nil || resolved.MaxBitRate <= 0 {
		return 0, false
	}
	duration := int64(*media.DurationSeconds + r.settings.TimePaddingSeconds)
	estimated := duration*int64(resolved.MaxBitRate)*1000/8 + r.settings.BytePadding
	return estimated, true
}

// rangeSeekable: byte-range seeking is trustworthy only when the file
// is served untouched, or when the predicted length is known and the
// final command step bounds its output with the bitrate placeholder.
func (r *Resolver) rangeSeekable(resolved Resolved) bool {
	if !resolved.Active() {
		return true
	}
	if !resolved.LengthKnown {
		return false
	}
	return strings.Contains(resolved.Rule.LastStep(), "%b")
}
