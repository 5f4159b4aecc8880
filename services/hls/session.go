package hls

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"airstream/models"
)

// SessionKey identifies one segmenting session. Two requests with the
// same key share a session; a request for the same media and player
// with any other parameter changed supersedes the old session.
type SessionKey struct {
	MediaID    string
	PlayerID   string
	MaxBitRate int
	Size       string // "WxH", "" for audio-only
	Duration   int    // segment duration in seconds
	AudioTrack int
}

func (k SessionKey) String() string {
	return fmt.Sprintf("media=%s player=%s maxBitRate=%d size=%q duration=%d audioTrack=%d",
		k.MediaID, k.PlayerID, k.MaxBitRate, k.Size, k.Duration, k.AudioTrack)
}

// Session is one running segmenter: an external process chain writing
// numbered segment files into a private directory.
type Session struct {
	Key       SessionKey
	Media     models.MediaRef
	ID        string
	Dir       string
	CreatedAt time.Time

	mu         sync.Mutex
	lastAccess time.Time
	completed  bool
	destroyed  bool
	chain      io.ReadCloser
	watcher    *fsnotify.Watcher

	// notify wakes every waiter whenever the directory contents may
	// have changed; destroyedCh unblocks waiters permanently.
	notify      chan struct{}
	destroyedCh chan struct{}
}

func newSession(key SessionKey, media models.MediaRef, baseDir string) *Session {
	id := uuid.New().String()
	now := time.Now()
	return &Session{
		Key:         key,
		Media:       media,
		ID:          id,
		Dir:         filepath.Join(baseDir, id),
		CreatedAt:   now,
		lastAccess:  now,
		notify:      make(chan struct{}, 1),
		destroyedCh: make(chan struct{}),
	}
}

// SegmentPath returns the on-disk path of the numbered segment file.
func (s *Session) SegmentPath(index int) string {
	return filepath.Join(s.Dir, fmt.Sprintf("segment%d.ts", index))
}

// SegmentPattern is the filename pattern handed to the segmenter
// command so it writes files where SegmentPath expects them.
func (s *Session) SegmentPattern() string {
	return filepath.Join(s.Dir, "segment%d.ts")
}

// Touch records a segment request so idle cleanup leaves the session alone.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastAccess = time.Now()
	s.mu.Unlock()
}

func (s *Session) idleSince() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAccess
}

func (s *Session) markCompleted() {
	s.mu.Lock()
	s.completed = true
	s.mu.Unlock()
	s.wake()
}

func (s *Session) isCompleted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Destroyed reports whether the session has been torn down.
func (s *Session) Destroyed() bool {
	select {
	case <-s.destroyedCh:
		return true
	default:
		return false
	}
}

// wake nudges waiters without blocking; a pending nudge is enough.
func (s *Session) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// watchSegments pumps filesystem events into the session's notify
// channel until the session is destroyed. Some filesystems don't
// deliver events reliably, so callers pair this with a fallback
// ticker on the wait path.
func (s *Session) watchSegments() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create segment watcher: %w", err)
	}
	if err := watcher.Add(s.Dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch session directory %q: %w", s.Dir, err)
	}

	s.mu.Lock()
	s.watcher = watcher
	s.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
					s.wake()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[hls] session %s: segment watcher error: %v", s.ID, err)
			case <-s.destroyedCh:
				return
			}
		}
	}()
	return nil
}

// segmentReady reports whether the numbered segment can be served. A
// file that exists but is still being appended to is not ready; it
// counts once the segmenter has moved on to the next file, or once
// the whole run has completed.
func (s *Session) segmentReady(index int) bool {
	info, err := os.Stat(s.SegmentPath(index))
	if err != nil || info.Size() == 0 {
		return false
	}
	if s.isCompleted() {
		return true
	}
	if _, err := os.Stat(s.SegmentPath(index + 1)); err == nil {
		return true
	}
	return false
}
