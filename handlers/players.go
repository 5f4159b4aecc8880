package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"airstream/services/players"
)

// PlayersHandler exposes the playback client registry.
type PlayersHandler struct {
	players *players.Service
}

func NewPlayersHandler(playersSvc *players.Service) *PlayersHandler {
	return &PlayersHandler{players: playersSvc}
}

// List handles GET /api/players.
func (h *PlayersHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.players.List())
}

// Create handles POST /api/players.
func (h *PlayersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username             string   `json:"username"`
		SchemeKbps           int      `json:"schemeKbps"`
		ActiveTranscodingIDs []string `json:"activeTranscodingIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	player, err := h.players.Create(req.Username)
	if err != nil {
		if errors.Is(err, players.ErrNameRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("[players] create: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if req.SchemeKbps != 0 {
		if player, err = h.players.SetSchemeKbps(player.ID, req.SchemeKbps); err != nil {
			log.Printf("[players] set ceiling: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	if len(req.ActiveTranscodingIDs) > 0 {
		if player, err = h.players.SetActiveTranscodings(player.ID, req.ActiveTranscodingIDs); err != nil {
			log.Printf("[players] set transcodings: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusCreated, player)
}

// Update handles PATCH /api/players/{playerID}.
func (h *PlayersHandler) Update(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["playerID"]

	var req struct {
		SchemeKbps           *int      `json:"schemeKbps"`
		ActiveTranscodingIDs *[]string `json:"activeTranscodingIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	player, ok := h.players.Get(id)
	if !ok {
		http.Error(w, "player not found", http.StatusNotFound)
		return
	}

	var err error
	if req.SchemeKbps != nil {
		if player, err = h.players.SetSchemeKbps(id, *req.SchemeKbps); err != nil {
			log.Printf("[players] set ceiling: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}
	if req.ActiveTranscodingIDs != nil {
		if player, err = h.players.SetActiveTranscodings(id, *req.ActiveTranscodingIDs); err != nil {
			log.Printf("[players] set transcodings: %v", err)
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}
	}

	writeJSON(w, http.StatusOK, player)
}

// Delete handles DELETE /api/players/{playerID}.
func (h *PlayersHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["playerID"]

	if err := h.players.Delete(id); err != nil {
		if errors.Is(err, players.ErrPlayerNotFound) {
			http.Error(w, "player not found", http.StatusNotFound)
			return
		}
		log.Printf("[players] delete: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] encoding response: %v", err)
	}
}
