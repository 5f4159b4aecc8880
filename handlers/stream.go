package handlers

import (
	"io"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/gabriel-vasile/mimetype"

	"airstream/config"
	"airstream/internal/metrics"
	"airstream/models"
	"airstream/services/library"
	"airstream/services/players"
	"airstream/services/transcode"
	"airstream/services/transcodings"
)

// contentTypes covers the formats transcoding rules commonly produce;
// anything else is sniffed from the file.
var contentTypes = map[string]string{
	"mp3":  "audio/mpeg",
	"ogg":  "audio/ogg",
	"oga":  "audio/ogg",
	"opus": "audio/ogg",
	"aac":  "audio/aac",
	"m4a":  "audio/mp4",
	"flac": "audio/flac",
	"wav":  "audio/x-wav",
	"mp4":  "video/mp4",
	"m4v":  "video/mp4",
	"mkv":  "video/x-matroska",
	"webm": "video/webm",
	"flv":  "video/x-flv",
	"ts":   "video/MP2T",
}

// StreamHandler serves media directly: untouched files for passthrough
// and live process-chain output when a transcoding rule applies.
type StreamHandler struct {
	transcodeCfg config.TranscodeSettings
	library      *library.Service
	players      *players.Service
	transcodings *transcodings.Service
	resolver     *transcode.Resolver
}

func NewStreamHandler(
	settings config.Settings,
	librarySvc *library.Service,
	playersSvc *players.Service,
	transcodingsSvc *transcodings.Service,
) *StreamHandler {
	return &StreamHandler{
		transcodeCfg: settings.Transcode,
		library:      librarySvc,
		players:      playersSvc,
		transcodings: transcodingsSvc,
		resolver:     transcode.NewResolver(settings.Transcode),
	}
}

// ServeStream handles GET /stream.
func (h *StreamHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	media, err := h.library.Get(query.Get("id"))
	if err != nil {
		http.Error(w, "media not found", http.StatusNotFound)
		return
	}

	player, err := h.players.GetOrCreate(query.Get("player"))
	if err != nil {
		log.Printf("[stream] resolving player: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.players.Touch(player.ID)

	override := 0
	if raw := query.Get("maxBitRate"); raw != "" {
		kbps, err := strconv.Atoi(raw)
		if err != nil || kbps < 0 {
			http.Error(w, "invalid maxBitRate", http.StatusBadRequest)
			return
		}
		override = kbps
	}

	resolved := h.resolver.Resolve(transcode.Request{
		Media:              media,
		Player:             player,
		Rules:              h.transcodings.ActiveFor(player),
		PreferredFormat:    query.Get("format"),
		MaxBitRateOverride: override,
	})

	if !resolved.Active() {
		h.serveRaw(w, r, media)
		return
	}
	h.serveTranscoded(w, r, media, resolved)
}

// serveRaw streams the file untouched, honouring range requests.
func (h *StreamHandler) serveRaw(w http.ResponseWriter, r *http.Request, media models.MediaRef) {
	path := h.library.AbsolutePath(media)

	contentType, ok := contentTypes[media.Format]
	if !ok {
		if detected, err := mimetype.DetectFile(path); err == nil {
			contentType = detected.String()
		} else {
			contentType = "application/octet-stream"
		}
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "inline")

	// ServeFile handles Range, If-Modified-Since and Content-Length.
	http.ServeFile(w, r, path)
}

// serveTranscoded runs the resolved rule's process chain and streams
// its stdout. A chain that fails to start falls back to the untouched
// file so playback degrades instead of erroring.
func (h *StreamHandler) serveTranscoded(w http.ResponseWriter, r *http.Request, media models.MediaRef, resolved transcode.Resolved) {
	inputPath, scratch, err := transcode.PortableInputPath(h.library.AbsolutePath(media))
	if err != nil {
		log.Printf("[stream] preparing input for %s: %v", media.ID, err)
		h.fallback(w, r, media)
		return
	}
	// From StartChain on the chain owns the scratch copy, even when it
	// fails to start; until then failed returns must remove it here.
	handedOff := false
	if scratch {
		defer func() {
			if !handedOff {
				os.Remove(inputPath)
			}
		}()
	}

	width, height := transcode.OutputDimensions(media, 0, 0, resolved.MaxBitRate)
	vars := transcode.CommandVars(media, models.VideoSettings{
		Width:           width,
		Height:          height,
		AudioTrackIndex: -1,
	}, resolved.MaxBitRate, inputPath)

	steps := make([][]string, 0, 3)
	for _, template := range resolved.Rule.Steps() {
		argv, err := transcode.Render(template, vars, h.transcodeCfg.Directory)
		if err != nil {
			log.Printf("[stream] rendering command for %s: %v", media.ID, err)
			h.fallback(w, r, media)
			return
		}
		steps = append(steps, argv)
	}

	var opts []transcode.ChainOption
	if scratch {
		opts = append(opts, transcode.WithScratchFile(inputPath))
	}
	handedOff = true
	chain, err := transcode.StartChain(r.Context(), steps, nil, opts...)
	if err != nil {
		log.Printf("[stream] starting chain for %s: %v", media.ID, err)
		h.fallback(w, r, media)
		return
	}
	defer chain.Close()
	metrics.ProcessChainsStarted.Inc()

	if contentType, ok := contentTypes[resolved.Rule.TargetFormat]; ok {
		w.Header().Set("Content-Type", contentType)
	} else {
		w.Header().Set("Content-Type", "application/octet-stream")
	}
	w.Header().Set("Content-Disposition", "inline")
	if resolved.LengthKnown {
		w.Header().Set("Content-Length", strconv.FormatInt(resolved.EstimatedLength, 10))
	}
	if resolved.RangeSeekable {
		w.Header().Set("Accept-Ranges", "bytes")
	} else {
		w.Header().Set("Accept-Ranges", "none")
	}

	if _, err := io.Copy(w, chain); err != nil {
		// Usually the client hanging up mid-stream.
		log.Printf("[stream] streaming %s: %v", media.ID, err)
	}
}

// fallback serves the untouched source after a transcoder failure.
func (h *StreamHandler) fallback(w http.ResponseWriter, r *http.Request, media models.MediaRef) {
	metrics.TranscodeFallbacks.Inc()
	h.serveRaw(w, r, media)
}

