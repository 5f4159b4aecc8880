package hls

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"airstream/config"
	"airstream/internal/metrics"
	"airstream/models"
	"airstream/services/transcode"
)

// RuleSource supplies the transcoding rules active for a player.
type RuleSource interface {
	ActiveRules(playerID string) []models.Transcoding
}

// PathResolver maps a media reference to its absolute on-disk path.
type PathResolver interface {
	AbsolutePath(media models.MediaRef) string
}

// ChainSpawner builds the real Spawner: it resolves the segmenting
// command for a session's media, renders the command templates and
// launches the process chain that writes numbered segment files into
// the session directory.
type ChainSpawner struct {
	settings config.TranscodeSettings
	resolver *transcode.Resolver
	rules    RuleSource
	paths    PathResolver
}

func NewChainSpawner(settings config.TranscodeSettings, rules RuleSource, paths PathResolver) *ChainSpawner {
	return &ChainSpawner{
		settings: settings,
		resolver: transcode.NewResolver(settings),
		rules:    rules,
		paths:    paths,
	}
}

// Spawn starts the segmenter for a session. It satisfies the Spawner
// signature expected by NewManager.
func (c *ChainSpawner) Spawn(ctx context.Context, session *Session) (io.ReadCloser, error) {
	key := session.Key
	media := session.Media

	resolved := c.resolver.Resolve(transcode.Request{
		Media:              media,
		Rules:              c.rules.ActiveRules(key.PlayerID),
		MaxBitRateOverride: key.MaxBitRate,
		Segmented:          true,
	})
	if resolved.Rule == nil {
		return nil, fmt.Errorf("no runnable segmenting transcoder for format %q", media.Format)
	}

	inputPath, scratch, err := transcode.PortableInputPath(c.paths.AbsolutePath(media))
	if err != nil {
		return nil, fmt.Errorf("prepare input %q: %w", media.Path, err)
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

	width, height := parseSize(key.Size)
	width, height = transcode.OutputDimensions(media, width, height, key.MaxBitRate)
	vars := transcode.CommandVars(media, models.VideoSettings{
		Width:           width,
		Height:          height,
		AudioTrackIndex: key.AudioTrack,
		SegmentFilename: session.SegmentPattern(),
	}, key.MaxBitRate, inputPath)

	steps := make([][]string, 0, 3)
	for _, template := range resolved.Rule.Steps() {
		argv, err := transcode.Render(template, vars, c.settings.Directory)
		if err != nil {
			return nil, fmt.Errorf("render segmenting command: %w", err)
		}
		steps = append(steps, argv)
	}

	var opts []transcode.ChainOption
	if scratch {
		opts = append(opts, transcode.WithScratchFile(inputPath))
	}
	handedOff = true
	chain, err := transcode.StartChain(ctx, steps, nil, opts...)
	if err != nil {
		return nil, err
	}

	metrics.ProcessChainsStarted.Inc()
	log.Printf("[hls] session %s: spawned %d-step chain for %s (rule %q)",
		session.ID, len(steps), media.Path, resolved.Rule.Name)
	return chain, nil
}

// parseSize parses a "WxH" spec. Anything else reports no size.
func parseSize(spec string) (int, int) {
	var w, h int
	if _, err := fmt.Sscanf(spec, "%dx%d", &w, &h); err != nil || w <= 0 || h <= 0 {
		return 0, 0
	}
	return w, h
}
