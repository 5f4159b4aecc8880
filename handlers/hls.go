package handlers

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"airstream/config"
	"airstream/internal/metrics"
	"airstream/models"
	"airstream/services/hls"
	"airstream/services/library"
	"airstream/services/players"
	"airstream/services/transcode"
)

// bitRateSpec is "<kbps>" or "<kbps>@<W>x<H>".
var bitRateSpec = regexp.MustCompile(`^(\d+)(?:@(\d+)x(\d+))?$`)

// defaultAudioBitRate applies when an audio playlist request names no
// bitrate at all.
const defaultAudioBitRate = 128

// URLVerifier checks the access signature carried by segment URLs.
type URLVerifier interface {
	Verify(u *url.URL) error
}

// HLSHandler serves HLS playlists and transcoded segments.
type HLSHandler struct {
	settings config.HLSSettings
	library  *library.Service
	players  *players.Service
	manager  *hls.Manager
	signer   hls.Signer
	verifier URLVerifier
}

func NewHLSHandler(
	settings config.Settings,
	librarySvc *library.Service,
	playersSvc *players.Service,
	manager *hls.Manager,
	signer hls.Signer,
	verifier URLVerifier,
) *HLSHandler {
	return &HLSHandler{
		settings: settings.HLS,
		library:  librarySvc,
		players:  playersSvc,
		manager:  manager,
		signer:   signer,
		verifier: verifier,
	}
}

// ServePlaylist handles GET /hls.m3u8. More than one maxBitRate spec
// (or none, for video) yields a variant playlist whose entries point
// back here; exactly one spec yields the single-rendition segment list.
func (h *HLSHandler) ServePlaylist(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	mediaID := query.Get("id")
	playerID := query.Get("player")

	media, err := h.library.Get(mediaID)
	if err != nil {
		http.Error(w, "media not found", http.StatusNotFound)
		return
	}

	player, err := h.players.GetOrCreate(playerID)
	if err != nil {
		log.Printf("[hls] resolving player %q: %v", playerID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.players.Touch(player.ID)

	if media.DurationSeconds == nil {
		// Segment math needs the total duration; a library entry
		// without one is a scan defect, not a client error.
		log.Printf("[hls] media %s has no duration, cannot build playlist", media.ID)
		http.Error(w, "media duration unknown", http.StatusInternalServerError)
		return
	}

	pairs, err := h.parseBitRateSpecs(query["maxBitRate"], media)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	audioTrack := -1
	if raw := query.Get("audioTrack"); raw != "" {
		track, err := strconv.Atoi(raw)
		if err != nil || track < 0 {
			http.Error(w, "invalid audioTrack", http.StatusBadRequest)
			return
		}
		audioTrack = track
	}

	w.Header().Set("Content-Type", "application/x-mpegurl")

	if len(pairs) > 1 {
		metrics.PlaylistsServed.WithLabelValues("variant").Inc()
		io.WriteString(w, hls.RenderVariant(media.ID, player.ID, pairs, h.signer))
		return
	}

	metrics.PlaylistsServed.WithLabelValues("single").Inc()
	io.WriteString(w, hls.RenderSingle(media.ID, player.ID, pairs[0],
		*media.DurationSeconds, h.settings.SegmentDurationSeconds, audioTrack, h.signer))
}

// parseBitRateSpecs turns the request's maxBitRate values into playback
// candidates. With no explicit specs, video media gets the configured
// ladder and audio gets a single rendition at its own bitrate ceiling.
func (h *HLSHandler) parseBitRateSpecs(specs []string, media models.MediaRef) ([]hls.BitrateDimension, error) {
	if len(specs) == 0 {
		if media.Video {
			pairs := make([]hls.BitrateDimension, 0, len(h.settings.DefaultVideoBitrates))
			for _, kbps := range h.settings.DefaultVideoBitrates {
				pairs = append(pairs, h.candidate(media, kbps, 0, 0))
			}
			return pairs, nil
		}
		kbps := defaultAudioBitRate
		if media.BitRate != nil && *media.BitRate < kbps {
			kbps = *media.BitRate
		}
		return []hls.BitrateDimension{{BitRateKbps: kbps}}, nil
	}

	pairs := make([]hls.BitrateDimension, 0, len(specs))
	for _, spec := range specs {
		m := bitRateSpec.FindStringSubmatch(spec)
		if m == nil {
			return nil, fmt.Errorf("invalid maxBitRate %q", spec)
		}
		kbps, _ := strconv.Atoi(m[1])
		width, _ := strconv.Atoi(m[2])
		height, _ := strconv.Atoi(m[3])
		pairs = append(pairs, h.candidate(media, kbps, width, height))
	}
	return pairs, nil
}

// candidate fills in output dimensions for video media when the caller
// did not pin a size.
func (h *HLSHandler) candidate(media models.MediaRef, kbps, width, height int) hls.BitrateDimension {
	if media.Video && width == 0 {
		sw, sh := 0, 0
		if media.Width != nil {
			sw = *media.Width
		}
		if media.Height != nil {
			sh = *media.Height
		}
		width, height = transcode.SelectSuitableSize(sw, sh, kbps)
	}
	return hls.BitrateDimension{BitRateKbps: kbps, Width: width, Height: height}
}

// ServeSegment handles the segment endpoint. The URL signature binds
// every parameter, so a verified request is served without any further
// permission checks.
func (h *HLSHandler) ServeSegment(w http.ResponseWriter, r *http.Request) {
	if err := h.verifier.Verify(r.URL); err != nil {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	query := r.URL.Query()
	media, err := h.library.Get(query.Get("id"))
	if err != nil {
		http.Error(w, "media not found", http.StatusNotFound)
		return
	}

	index, err := strconv.Atoi(query.Get("segmentIndex"))
	if err != nil || index < 0 {
		http.Error(w, "invalid segmentIndex", http.StatusBadRequest)
		return
	}
	maxBitRate, _ := strconv.Atoi(query.Get("maxBitRate"))
	duration, err := strconv.Atoi(query.Get("duration"))
	if err != nil || duration <= 0 {
		duration = h.settings.SegmentDurationSeconds
	}
	audioTrack := -1
	if raw := query.Get("audioTrack"); raw != "" {
		if track, err := strconv.Atoi(raw); err == nil {
			audioTrack = track
		}
	}

	key := hls.SessionKey{
		MediaID:    media.ID,
		PlayerID:   query.Get("player"),
		MaxBitRate: maxBitRate,
		Size:       query.Get("size"),
		Duration:   duration,
		AudioTrack: audioTrack,
	}
	h.players.Touch(key.PlayerID)

	session, err := h.manager.GetOrCreate(key, media)
	if err != nil {
		log.Printf("[hls] creating session for %s: %v", key, err)
		http.Error(w, "transcoding unavailable", http.StatusInternalServerError)
		return
	}

	timeout := time.Duration(h.settings.WaitTimeoutSeconds) * time.Second
	path, err := h.manager.WaitForSegment(r.Context(), session, index, timeout)
	switch {
	case err == nil:
	case errors.Is(err, hls.ErrNotReady), errors.Is(err, hls.ErrSessionDestroyed):
		w.Header().Set("Retry-After", strconv.Itoa(duration))
		http.Error(w, "segment not ready", http.StatusServiceUnavailable)
		return
	default:
		// Client went away while waiting.
		return
	}

	h.serveSegmentFile(w, r, path)
}

// serveSegmentFile streams a finished segment. The segmenter renames
// files into place, but a slow filesystem can still lose the race, so
// the open is retried briefly.
func (h *HLSHandler) serveSegmentFile(w http.ResponseWriter, r *http.Request, path string) {
	file, err := retry.DoWithData(
		func() (*os.File, error) { return os.Open(path) },
		retry.Attempts(3),
		retry.Delay(50*time.Millisecond),
		retry.Context(r.Context()),
	)
	if err != nil {
		log.Printf("[hls] opening segment %q: %v", path, err)
		http.Error(w, "segment unavailable", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		http.Error(w, "segment unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "video/MP2T")
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))

	if _, err := io.Copy(w, file); err != nil {
		log.Printf("[hls] streaming segment %q: %v", path, err)
		return
	}
	metrics.SegmentsServed.Inc()
}
