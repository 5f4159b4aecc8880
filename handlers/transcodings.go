package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/gorilla/mux"

	"airstream/models"
	"airstream/services/transcodings"
)

// TranscodingsHandler exposes the conversion rule registry.
type TranscodingsHandler struct {
	transcodings *transcodings.Service
}

func NewTranscodingsHandler(svc *transcodings.Service) *TranscodingsHandler {
	return &TranscodingsHandler{transcodings: svc}
}

// List handles GET /api/transcodings.
func (h *TranscodingsHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.transcodings.List())
}

// Create handles POST /api/transcodings.
func (h *TranscodingsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var rule models.Transcoding
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	created, err := h.transcodings.Create(rule)
	if err != nil {
		if errors.Is(err, transcodings.ErrNameRequired) || errors.Is(err, transcodings.ErrStepRequired) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		log.Printf("[transcodings] create: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

// Delete handles DELETE /api/transcodings/{transcodingID}.
func (h *TranscodingsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.transcodings.Delete(mux.Vars(r)["transcodingID"]); err != nil {
		if errors.Is(err, transcodings.ErrRuleNotFound) {
			http.Error(w, "transcoding not found", http.StatusNotFound)
			return
		}
		log.Printf("[transcodings] delete: %v", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
