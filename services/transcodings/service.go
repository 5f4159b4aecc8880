package transcodings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"airstream/models"
)

var (
	ErrStorageDirRequired = errors.New("storage directory not provided")
	ErrRuleNotFound       = errors.New("transcoding rule not found")
	ErrNameRequired       = errors.New("name is required")
	ErrStepRequired       = errors.New("at least one command step is required")
)

// Service manages the configured transcoding rules. A fresh install is
// seeded with the stock conversions so audio and video play without
// any setup.
type Service struct {
	mu    sync.RWMutex
	path  string
	rules map[string]models.Transcoding
}

// NewService creates a transcodings service storing data inside the provided directory.
func NewService(storageDir string) (*Service, error) {
	if strings.TrimSpace(storageDir) == "" {
		return nil, ErrStorageDirRequired
	}

	if err := os.MkdirAll(storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcodings dir: %w", err)
	}

	svc := &Service{
		path:  filepath.Join(storageDir, "transcodings.json"),
		rules: make(map[string]models.Transcoding),
	}

	if err := svc.load(); err != nil {
		return nil, err
	}

	if err := svc.seedDefaults(); err != nil {
		return nil, err
	}

	return svc, nil
}

// defaultRules are the stock conversions seeded on first start.
func defaultRules() []models.Transcoding {
	return []models.Transcoding{
		{
			Name:          "mp3 audio",
			SourceFormats: "ogg oga aac m4a flac wav wma aif aiff ape mpc shn",
			TargetFormat:  "mp3",
			Step1:         "ffmpeg -i %s -map 0:0 -b:a %bk -v 0 -f mp3 -",
			DefaultActive: true,
		},
		{
			Name:          "mkv video",
			SourceFormats: "avi mpg mpeg mp4 m4v mkv mov wmv ogv divx m2ts webm",
			TargetFormat:  "mkv",
			Step1:         "ffmpeg -ss %o -i %s -t %d -c:v libx264 -preset superfast -b:v %bk -c:a libvorbis -f matroska -threads 0 -",
			DefaultActive: true,
		},
		{
			Name:          "flv/h264 video",
			SourceFormats: "avi mpg mpeg mp4 m4v mkv mov wmv ogv divx m2ts",
			TargetFormat:  "flv",
			Step1:         "ffmpeg -ss %o -i %s -async 1 -b %bk -s %wx%h -ar 44100 -ac 2 -v 0 -f flv -c:v libx264 -preset superfast -threads 0 -",
			DefaultActive: false,
		},
	}
}

// List returns all rules sorted by name.
func (s *Service) List() []models.Transcoding {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]models.Transcoding, 0, len(s.rules))
	for _, r := range s.rules {
		rules = append(rules, r)
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Name < rules[j].Name
	})

	return rules
}

// Get returns the rule with the given ID if present.
func (s *Service) Get(id string) (models.Transcoding, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[strings.TrimSpace(id)]
	return rule, ok
}

// ActiveFor returns the rules enabled for the given player, in name
// order. A player with no explicit selection gets every rule marked
// active by default.
func (s *Service) ActiveFor(player models.Player) []models.Transcoding {
	all := s.List()

	active := make([]models.Transcoding, 0, len(all))
	for _, rule := range all {
		if len(player.ActiveTranscodingIDs) == 0 {
			if rule.DefaultActive {
				active = append(active, rule)
			}
			continue
		}
		if player.HasTranscoding(rule.ID) {
			active = append(active, rule)
		}
	}
	return active
}

// Create registers a new transcoding rule.
func (s *Service) Create(rule models.Transcoding) (models.Transcoding, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return models.Transcoding{}, ErrNameRequired
	}
	if strings.TrimSpace(rule.Step1) == "" {
		return models.Transcoding{}, ErrStepRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rule.ID = uuid.NewString()
	s.rules[rule.ID] = rule

	if err := s.saveLocked(); err != nil {
		return models.Transcoding{}, err
	}

	return rule, nil
}

// Update replaces an existing rule, keeping its ID.
func (s *Service) Update(rule models.Transcoding) (models.Transcoding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[rule.ID]; !ok {
		return models.Transcoding{}, ErrRuleNotFound
	}

	s.rules[rule.ID] = rule

	if err := s.saveLocked(); err != nil {
		return models.Transcoding{}, err
	}

	return rule, nil
}

// Delete removes a rule.
func (s *Service) Delete(id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return ErrRuleNotFound
	}

	delete(s.rules, id)

	return s.saveLocked()
}

func (s *Service) seedDefaults() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.rules) > 0 {
		return nil
	}

	for _, rule := range defaultRules() {
		rule.ID = uuid.NewString()
		s.rules[rule.ID] = rule
	}

	return s.saveLocked()
}

func (s *Service) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open transcodings file: %w", err)
	}
	defer file.Close()

	dec := json.NewDecoder(file)
	var stored []models.Transcoding
	if err := dec.Decode(&stored); err != nil {
		return fmt.Errorf("decode transcodings: %w", err)
	}

	s.rules = make(map[string]models.Transcoding, len(stored))
	for _, rule := range stored {
		if strings.TrimSpace(rule.ID) == "" {
			continue
		}
		s.rules[rule.ID] = rule
	}

	return nil
}

func (s *Service) saveLocked() error {
	rules := make([]models.Transcoding, 0, len(s.rules))
	for _, rule := range s.rules {
		rules = append(rules, rule)
	}

	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Name < rules[j].Name
	})

	tmp := s.path + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create transcodings temp file: %w", err)
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rules); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("encode transcodings: %w", err)
	}

	if err := file.Sync(); err != nil {
		file.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync transcodings: %w", err)
	}

	if err := file.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close transcodings temp file: %w", err)
	}

	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace transcodings file: %w", err)
	}

	return nil
}
