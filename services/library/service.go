package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"airstream/models"
)

var (
	ErrIndexPathRequired = errors.New("library index path not provided")
	ErrMediaNotFound     = errors.New("media not found")
)

// Service is a read-only view of the media library: an index file
// mapping IDs to media references, plus the directory the references
// point into. The filesystem is abstracted so tests run against an
// in-memory tree.
type Service struct {
	mu       sync.RWMutex
	fs       afero.Fs
	indexPth string
	mediaDir string
	media    map[string]models.MediaRef
}

// NewService loads the index from indexPath. Media paths in the index
// are relative to mediaDir.
func NewService(fs afero.Fs, indexPath, mediaDir string) (*Service, error) {
	if strings.TrimSpace(indexPath) == "" {
		return nil, ErrIndexPathRequired
	}

	svc := &Service{
		fs:       fs,
		indexPth: indexPath,
		mediaDir: mediaDir,
		media:    make(map[string]models.MediaRef),
	}

	if err := svc.Reload(); err != nil {
		return nil, err
	}
	return svc, nil
}

// Reload re-reads the index file. A missing index is an empty library,
// not an error, so the server starts before the first scan.
func (s *Service) Reload() error {
	data, err := afero.ReadFile(s.fs, s.indexPth)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.mu.Lock()
			s.media = make(map[string]models.MediaRef)
			s.mu.Unlock()
			return nil
		}
		return fmt.Errorf("read library index: %w", err)
	}

	var stored []models.MediaRef
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode library index: %w", err)
	}

	media := make(map[string]models.MediaRef, len(stored))
	for _, ref := range stored {
		if strings.TrimSpace(ref.ID) == "" {
			continue
		}
		media[ref.ID] = ref
	}

	s.mu.Lock()
	s.media = media
	s.mu.Unlock()
	return nil
}

// Get returns the media reference for an ID.
func (s *Service) Get(id string) (models.MediaRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ref, ok := s.media[strings.TrimSpace(id)]
	if !ok {
		return models.MediaRef{}, ErrMediaNotFound
	}
	return ref, nil
}

// Count returns the number of indexed media files.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.media)
}

// AbsolutePath maps a media reference to its on-disk location.
func (s *Service) AbsolutePath(media models.MediaRef) string {
	if filepath.IsAbs(media.Path) {
		return media.Path
	}
	return filepath.Join(s.mediaDir, media.Path)
}

// Open opens the media file for reading.
func (s *Service) Open(media models.MediaRef) (afero.File, error) {
	return s.fs.Open(s.AbsolutePath(media))
}

// Size returns the media's size in bytes, preferring the indexed value
// and falling back to a stat call.
func (s *Service) Size(media models.MediaRef) (int64, error) {
	if media.FileSizeBytes > 0 {
		return media.FileSizeBytes, nil
	}
	info, err := s.fs.Stat(s.AbsolutePath(media))
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}
