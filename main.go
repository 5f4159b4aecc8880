package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/afero"
	"gopkg.in/natefinch/lumberjack.v2"

	"airstream/api"
	"airstream/config"
	"airstream/handlers"
	"airstream/internal/signer"
	"airstream/models"
	"airstream/services/hls"
	"airstream/services/library"
	"airstream/services/players"
	"airstream/services/transcodings"
)

// playerRules adapts the player and transcoding registries to the
// rule lookup the segment spawner needs.
type playerRules struct {
	players      *players.Service
	transcodings *transcodings.Service
}

func (p playerRules) ActiveRules(playerID string) []models.Transcoding {
	player, ok := p.players.Get(playerID)
	if !ok {
		player = models.Player{}
	}
	return p.transcodings.ActiveFor(player)
}

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("airstream starting...")

	configPath := os.Getenv("AIRSTREAM_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("data", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate and persist a signing key on first start so segment
	// URLs survive restarts.
	settings.Security.SigningKey = strings.TrimSpace(settings.Security.SigningKey)
	if settings.Security.SigningKey == "" {
		key, err := signer.GenerateKey()
		if err != nil {
			log.Fatalf("failed to generate signing key: %v", err)
		}
		settings.Security.SigningKey = key
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist signing key: %v", err)
		}
		fmt.Println("generated new URL signing key")
	}

	urlSigner := signer.New(settings.Security.SigningKey,
		time.Duration(settings.Security.TokenTTLMinutes)*time.Minute)

	librarySvc, err := library.NewService(afero.NewOsFs(), settings.Library.IndexPath, settings.Library.MediaDirectory)
	if err != nil {
		log.Fatalf("failed to load library: %v", err)
	}
	log.Printf("library loaded: %d media files", librarySvc.Count())

	playersSvc, err := players.NewService(settings.Players.Directory)
	if err != nil {
		log.Fatalf("failed to init players service: %v", err)
	}
	transcodingsSvc, err := transcodings.NewService(settings.Players.Directory)
	if err != nil {
		log.Fatalf("failed to init transcodings service: %v", err)
	}

	spawner := hls.NewChainSpawner(settings.Transcode,
		playerRules{players: playersSvc, transcodings: transcodingsSvc}, librarySvc)
	sessionManager, err := hls.NewManager(settings.HLS.TempDirectory,
		time.Duration(settings.HLS.IdleTimeoutSeconds)*time.Second, spawner.Spawn)
	if err != nil {
		log.Fatalf("failed to init session manager: %v", err)
	}

	r := mux.NewRouter()
	api.Register(r,
		handlers.NewHLSHandler(settings, librarySvc, playersSvc, sessionManager, urlSigner, urlSigner),
		handlers.NewStreamHandler(settings, librarySvc, playersSvc, transcodingsSvc),
		handlers.NewPlayersHandler(playersSvc),
		handlers.NewTranscodingsHandler(transcodingsSvc),
	)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming responses have no bounded duration
		IdleTimeout:  120 * time.Second,
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	<-shutdownChan
	log.Println("Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	sessionManager.Shutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("Shutdown complete")
}
