// dumpstream resolves a media file the way the server would and pipes
// the resulting process-chain output to stdout, for checking transcode
// settings without running the full server.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"

	"github.com/spf13/afero"

	"airstream/config"
	"airstream/models"
	"airstream/services/library"
	"airstream/services/players"
	"airstream/services/transcode"
	"airstream/services/transcodings"
)

func main() {
	var (
		configPath = flag.String("config", "data/settings.json", "Path to settings.json")
		mediaID    = flag.String("id", "", "Media ID to stream")
		playerID   = flag.String("player", "", "Player ID (optional)")
		format     = flag.String("format", "", "Preferred target format (\"raw\" to disable transcoding)")
		maxBitRate = flag.Int("maxBitRate", 0, "Bitrate ceiling in kbps (0 = player default)")
	)
	flag.Parse()

	if *mediaID == "" {
		log.Fatal("-id is required")
	}

	settings, err := config.NewManager(*configPath).Load()
	if err != nil {
		log.Fatalf("load settings: %v", err)
	}

	librarySvc, err := library.NewService(afero.NewOsFs(), settings.Library.IndexPath, settings.Library.MediaDirectory)
	if err != nil {
		log.Fatalf("load library: %v", err)
	}
	media, err := librarySvc.Get(*mediaID)
	if err != nil {
		log.Fatalf("media %q: %v", *mediaID, err)
	}

	playersSvc, err := players.NewService(settings.Players.Directory)
	if err != nil {
		log.Fatalf("players service: %v", err)
	}
	player, err := playersSvc.GetOrCreate(*playerID)
	if err != nil {
		log.Fatalf("player %q: %v", *playerID, err)
	}

	transcodingsSvc, err := transcodings.NewService(settings.Players.Directory)
	if err != nil {
		log.Fatalf("transcodings service: %v", err)
	}

	resolver := transcode.NewResolver(settings.Transcode)
	resolved := resolver.Resolve(transcode.Request{
		Media:              media,
		Player:             player,
		Rules:              transcodingsSvc.ActiveFor(player),
		PreferredFormat:    *format,
		MaxBitRateOverride: *maxBitRate,
	})

	inputPath := librarySvc.AbsolutePath(media)
	if !resolved.Active() {
		log.Printf("passthrough: %s", inputPath)
		file, err := os.Open(inputPath)
		if err != nil {
			log.Fatalf("open media: %v", err)
		}
		defer file.Close()
		if _, err := io.Copy(os.Stdout, file); err != nil {
			log.Fatalf("copy: %v", err)
		}
		return
	}

	log.Printf("rule %q -> %s (maxBitRate=%d)", resolved.Rule.Name, resolved.Rule.TargetFormat, resolved.MaxBitRate)

	usable, scratch, err := transcode.PortableInputPath(inputPath)
	if err != nil {
		log.Fatalf("prepare input: %v", err)
	}

	width, height := transcode.OutputDimensions(media, 0, 0, resolved.MaxBitRate)
	vars := transcode.CommandVars(media, models.VideoSettings{
		Width:           width,
		Height:          height,
		AudioTrackIndex: -1,
	}, resolved.MaxBitRate, usable)

	steps := make([][]string, 0, 3)
	for _, template := range resolved.Rule.Steps() {
		argv, err := transcode.Render(template, vars, settings.Transcode.Directory)
		if err != nil {
			log.Fatalf("render command: %v", err)
		}
		log.Printf("step: %v", argv)
		steps = append(steps, argv)
	}

	var opts []transcode.ChainOption
	if scratch {
		opts = append(opts, transcode.WithScratchFile(usable))
	}
	chain, err := transcode.StartChain(context.Background(), steps, nil, opts...)
	if err != nil {
		log.Fatalf("start chain: %v", err)
	}
	defer chain.Close()

	if _, err := io.Copy(os.Stdout, chain); err != nil {
		log.Fatalf("copy: %v", err)
	}
	if err := chain.Wait(); err != nil {
		log.Fatalf("chain: %v", err)
	}
}
