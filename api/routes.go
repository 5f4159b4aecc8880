package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"airstream/handlers"
)

// corsMiddleware handles CORS for API routes.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Register mounts all endpoints onto the provided router.
func Register(
	r *mux.Router,
	hlsHandler *handlers.HLSHandler,
	streamHandler *handlers.StreamHandler,
	playersHandler *handlers.PlayersHandler,
	transcodingsHandler *handlers.TranscodingsHandler,
) {
	// Streaming endpoints live at the root so manifest-relative segment
	// URLs resolve without a prefix.
	r.HandleFunc("/hls.m3u8", hlsHandler.ServePlaylist).Methods(http.MethodGet)
	r.HandleFunc("/segment.ts", hlsHandler.ServeSegment).Methods(http.MethodGet)
	r.HandleFunc("/stream", streamHandler.ServeStream).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	api.HandleFunc("/players", playersHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/players", playersHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/players/{playerID}", playersHandler.Update).Methods(http.MethodPatch)
	api.HandleFunc("/players/{playerID}", playersHandler.Delete).Methods(http.MethodDelete)

	api.HandleFunc("/transcodings", transcodingsHandler.List).Methods(http.MethodGet)
	api.HandleFunc("/transcodings", transcodingsHandler.Create).Methods(http.MethodPost)
	api.HandleFunc("/transcodings/{transcodingID}", transcodingsHandler.Delete).Methods(http.MethodDelete)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
}
