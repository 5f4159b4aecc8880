package players

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"airstream/models"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrPlayerNotFound     = errors.New("player not found")
	ErrNameRequired       = errors.New("name is required")
)

// Service manages persistence of playback client profiles.
type Service struct {
	mu      sync.RWMutex
	path    string
	players map[string]models.Player
}

// NewService creates a players service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create players dir: %w", err)
	}

	svc := &Service{
		path:    filepath.Join(storageDir, "players.json"),
		players: make(map[string]models.Player),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	if err := svc.ensureDefaultPlayer(); err != nil {
		return nil, err
	}

	return svc, nil
}

// List returns all players sorted by creation time, then username.
func (s *Service) List() []models.Player {
	s.mu.RLock()
	defer s.mu.RUnlock()

	players := make([]models.Player, 0, len(s.players))
	for _, p := range s.players {
		players = append(players, p)
	}

	sort.Slice(players, func(i, j int) bool {
		if players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].Username < players[j].Username
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})

	return players
}

// Get returns the player with the given ID if present.
func (s *Service) Get(id string) (models.Player, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.Player{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	player, ok := s.players[id]
	return player, ok
}

// GetOrCreate returns the player with the given ID, creating a fresh
// profile under that ID when none exists. Unknown players announcing
// themselves get a profile with no bitrate ceiling and the default
// transcoding rules.
func (s *Service) GetOrCreate(id string) (models.Player, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" {
		if player, ok := s.players[id]; ok {
			return player, nil
		}
	}
	return s.createLocked(id, models.DefaultPlayerName)
}

// Create registers a new player profile with the provided username.
func (s *Service) Create(username string) (models.Player, error) {
	trimmed := strings.TrimSpace(username)
	if trimmed == "" {
		return models.Player{}, ErrNameRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createLocked("", trimmed)
}

// SetSchemeKbps updates the player's transcode bitrate ceiling.
// Zero disables the ceiling.
func (s *Service) SetSchemeKbps(id string, kbps int) (models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[strings.TrimSpace(id)]
	if !ok {
		return models.Player{}, ErrPlayerNotFound
	}

	if kbps < 0 {
		kbps = 0
	}
	player.SchemeKbps = kbps
	s.players[player.ID] = player

	if err := s.saveLocked(); err != nil {
		return models.Player{}, err
	}

	return player, nil
}

// SetActiveTranscodings replaces the set of transcoding rules enabled
// for the player.
func (s *Service) SetActiveTranscodings(id string, transcodingIDs []string) (models.Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[strings.TrimSpace(id)]
	if !ok {
		return models.Player{}, ErrPlayerNotFound
	}

	player.ActiveTranscodingIDs = append([]string(nil), transcodingIDs...)
	s.players[player.ID] = player

	if err := s.saveLocked(); err != nil {
		return models.Player{}, err
	}

	return player, nil
}

// Touch records player activity.
func (s *Service) Touch(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	player, ok := s.players[strings.TrimSpace(id)]
	if !ok {
		return
	}

	player.LastSeen = time.Now().UTC()
	s.players[player.ID] = player
	// LastSeen churns on every request; losing it on crash is fine,
	// so persistence waits for the next mutating call.
}

// Delete removes a player profile.
func (s *Service) Delete(id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.players[id]; !ok {
		return ErrPlayerNotFound
	}

	delete(s.players, id)

	return s.saveLocked()
}

func (s *Service) ensureDefaultPlayer() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.players) > 0 {
		return nil
	}

	_, err := s.createLocked("", models.DefaultPlayerName)
	return err
}

func (s *Service) createLocked(id, username string) (models.Player, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if _, exists := s.players[id]; exists {
		return models.Player{}, fmt.Errorf("duplicate player id %q", id)
	}

	now := time.Now().UTC()
	player := models.Player{
		ID:        id,
		Username:  username,
		CreatedAt: now,
		LastSeen:  now,
	}

	s.players[player.ID] = player

	if err := s.saveLocked(); err != nil {
		return models.Player{}, err
	}

	return player, nil
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open players file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	var stored []models.Player
	if err := dec.Decode(&stored); err != nil {
		return fmt.Errorf("decode players: %w", err)
	}

	s.players = make(map[string]models.Player, len(stored))
	for _, player := range stored {
		if strings.TrimSpace(player.ID) == "" {
			continue
		}
		if player.CreatedAt.IsZero() {
			player.CreatedAt = time.Now().UTC()
		}
		s.players[player.ID] = player
	}

	return nil
}

func (s *Service) saveLocked() error {
	players := make([]models.Player, 0, len(s.players))
	for _, player := range s.players {
		players = append(players, player)
	}

	sort.Slice(players, func(i, j int) bool {
		if players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].Username < players[j].Username
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create players temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(players); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode players: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync players: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close players temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace players file: %w", err)
	}

	return nil
}
