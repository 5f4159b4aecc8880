package hls

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"airstream/internal/metrics"
	"airstream/models"
)

// ErrNotReady is returned by WaitForSegment when the requested segment
// did not appear within the wait budget. Callers translate it into a
// retryable HTTP 503.
var ErrNotReady = errors.New("segment not ready")

// ErrSessionDestroyed is returned to waiters whose session was torn
// down while they were blocked.
var ErrSessionDestroyed = errors.New("session destroyed")

// Spawner starts the external segmenter for a session and returns the
// reader for its final output. The manager drains the reader; EOF
// marks the session complete, any other error destroys it.
type Spawner func(ctx context.Context, session *Session) (io.ReadCloser, error)

// Manager owns all live segmenting sessions. It deduplicates identical
// requests onto one session, evicts a session when the same media and
// player come back with different parameters, and reaps idle sessions.
type Manager struct {
	mu       sync.Mutex
	sessions map[SessionKey]*Session

	baseDir     string
	spawn       Spawner
	idleTimeout time.Duration

	cleanupDone chan struct{}
}

// NewManager creates a session manager storing segments under baseDir.
// The spawner is invoked once per new session.
func NewManager(baseDir string, idleTimeout time.Duration, spawn Spawner) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create segment base directory %q: %w", baseDir, err)
	}

	m := &Manager{
		sessions:    make(map[SessionKey]*Session),
		baseDir:     baseDir,
		spawn:       spawn,
		idleTimeout: idleTimeout,
		cleanupDone: make(chan struct{}),
	}
	m.removeOrphanedDirectories()
	go m.cleanupLoop()
	return m, nil
}

// GetOrCreate returns the live session for key, creating one if
// needed. Creating a session evicts any other session for the same
// media and player, so one player never runs two segmenters against
// the same file.
func (m *Manager) GetOrCreate(key SessionKey, media models.MediaRef) (*Session, error) {
	m.mu.Lock()
	if session, ok := m.sessions[key]; ok {
		m.mu.Unlock()
		session.Touch()
		return session, nil
	}

	var evicted []*Session
	for k, s := range m.sessions {
		if k.MediaID == key.MediaID && k.PlayerID == key.PlayerID {
			delete(m.sessions, k)
			evicted = append(evicted, s)
		}
	}

	session := newSession(key, media, m.baseDir)
	m.sessions[key] = session
	metrics.ActiveSessions.Inc()
	m.mu.Unlock()

	for _, old := range evicted {
		log.Printf("[hls] session %s superseded by %s (%s)", old.ID, session.ID, key)
		m.destroy(old, "superseded")
	}

	if err := m.start(session); err != nil {
		m.mu.Lock()
		if m.sessions[key] == session {
			delete(m.sessions, key)
		}
		m.mu.Unlock()
		m.destroy(session, "failed")
		return nil, err
	}

	metrics.SessionsStarted.Inc()
	log.Printf("[hls] started session %s (%s) dir=%s", session.ID, key, session.Dir)
	return session, nil
}

// start creates the session directory, wires the filesystem watcher
// and launches the segmenter. The segmenter outlives the request that
// created it, so it runs under a background context, not the request's.
func (m *Manager) start(session *Session) error {
	if err := os.MkdirAll(session.Dir, 0755); err != nil {
		return fmt.Errorf("create session directory %q: %w", session.Dir, err)
	}
	if err := session.watchSegments(); err != nil {
		// Watcher is an optimization; the wait path still polls.
		log.Printf("[hls] session %s: %v (falling back to polling)", session.ID, err)
	}

	chain, err := m.spawn(context.Background(), session)
	if err != nil {
		return fmt.Errorf("start segmenter: %w", err)
	}

	// A concurrent creator may have evicted this session while the
	// spawner was still starting; destroy saw a nil chain then, so the
	// process has no owner but us.
	session.mu.Lock()
	if session.destroyed {
		session.mu.Unlock()
		chain.Close()
		log.Printf("[hls] session %s destroyed during spawn, stopped segmenter", session.ID)
		return nil
	}
	session.chain = chain
	session.mu.Unlock()

	go m.drain(session, chain)
	return nil
}

// drain consumes the segmenter's output until it exits. The segment
// commands write their real output to numbered files, so this mostly
// just observes process lifetime.
func (m *Manager) drain(session *Session, chain io.ReadCloser) {
	_, err := io.Copy(io.Discard, chain)
	if cerr := chain.Close(); err == nil {
		err = cerr
	}

	if session.Destroyed() {
		return
	}
	if err != nil {
		log.Printf("[hls] session %s: segmenter failed: %v", session.ID, err)
		m.Remove(session, "failed")
		return
	}
	log.Printf("[hls] session %s: segmenter finished", session.ID)
	session.markCompleted()
}

// WaitForSegment blocks until the numbered segment is ready to serve,
// then returns its path. It gives up after timeout with ErrNotReady,
// with ErrSessionDestroyed if the session dies first, or with the
// context error if the caller goes away.
func (m *Manager) WaitForSegment(ctx context.Context, session *Session, index int, timeout time.Duration) (string, error) {
	session.Touch()
	started := time.Now()
	defer func() {
		metrics.SegmentWaitDuration.Observe(time.Since(started).Seconds())
	}()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	// Filesystem events are the fast path; the ticker catches missed
	// events and completion races.
	poll := time.NewTicker(500 * time.Millisecond)
	defer poll.Stop()

	for {
		if session.segmentReady(index) {
			return session.SegmentPath(index), nil
		}
		if session.isCompleted() {
			// The run is over and the file never appeared; waiting
			// longer cannot help.
			return "", fmt.Errorf("%w: segment %d past end of output", ErrNotReady, index)
		}

		select {
		case <-session.notify:
		case <-poll.C:
		case <-deadline.C:
			metrics.SegmentWaitTimeouts.Inc()
			return "", fmt.Errorf("%w: segment %d after %v", ErrNotReady, index, timeout)
		case <-session.destroyedCh:
			return "", ErrSessionDestroyed
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// Get returns the live session for key, if any.
func (m *Manager) Get(key SessionKey) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[key]
	return session, ok
}

// Remove unregisters and destroys a session. Safe to call more than
// once and from multiple goroutines.
func (m *Manager) Remove(session *Session, reason string) {
	m.mu.Lock()
	if m.sessions[session.Key] == session {
		delete(m.sessions, session.Key)
	}
	m.mu.Unlock()
	m.destroy(session, reason)
}

// destroy kills the segmenter, releases the watcher, wakes all waiters
// and removes the session directory. Idempotent.
func (m *Manager) destroy(session *Session, reason string) {
	session.mu.Lock()
	if session.destroyed {
		session.mu.Unlock()
		return
	}
	session.destroyed = true
	chain := session.chain
	watcher := session.watcher
	session.mu.Unlock()

	close(session.destroyedCh)

	if chain != nil {
		if err := chain.Close(); err != nil {
			log.Printf("[hls] session %s: stopping segmenter: %v", session.ID, err)
		}
	}
	if watcher != nil {
		watcher.Close()
	}

	// The segmenter may hold the directory open briefly after Close.
	for attempt := 0; attempt < 3; attempt++ {
		if err := os.RemoveAll(session.Dir); err != nil {
			if attempt < 2 {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			log.Printf("[hls] session %s: failed to remove directory %q: %v", session.ID, session.Dir, err)
		}
		break
	}

	metrics.SessionsDestroyed.WithLabelValues(reason).Inc()
	metrics.ActiveSessions.Dec()
	log.Printf("[hls] destroyed session %s (%s)", session.ID, reason)
}

// cleanupLoop reaps sessions nobody has requested a segment from
// within the idle timeout.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.removeIdleSessions()
		case <-m.cleanupDone:
			return
		}
	}
}

func (m *Manager) removeIdleSessions() {
	now := time.Now()

	m.mu.Lock()
	var idle []*Session
	for key, session := range m.sessions {
		if now.Sub(session.idleSince()) > m.idleTimeout {
			delete(m.sessions, key)
			idle = append(idle, session)
		}
	}
	m.mu.Unlock()

	for _, session := range idle {
		log.Printf("[hls] session %s idle for over %v, removing", session.ID, m.idleTimeout)
		m.destroy(session, "idle")
	}
}

// removeOrphanedDirectories clears leftovers from a previous run.
func (m *Manager) removeOrphanedDirectories() {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		path := filepath.Join(m.baseDir, entry.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[hls] failed to remove orphaned path %q: %v", path, err)
		}
	}
	if len(entries) > 0 {
		log.Printf("[hls] removed %d orphaned session directories from %s", len(entries), m.baseDir)
	}
}

// Shutdown stops the cleanup loop and tears down every session.
func (m *Manager) Shutdown() {
	close(m.cleanupDone)

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for key, session := range m.sessions {
		delete(m.sessions, key)
		sessions = append(sessions, session)
	}
	m.mu.Unlock()

	log.Printf("[hls] shutting down, destroying %d active sessions", len(sessions))
	var wg conc.WaitGroup
	for _, session := range sessions {
		session := session
		wg.Go(func() {
			m.destroy(session, "shutdown")
		})
	}
	wg.Wait()
}
