package hls

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"airstream/models"
)

// pipeSpawner counts spawns and hands out pipe readers that stay open
// until the session is destroyed or finish() is called.
type pipeSpawner struct {
	spawns  atomic.Int32
	mu      sync.Mutex
	writers []*io.PipeWriter
}

func (p *pipeSpawner) spawn(ctx context.Context, session *Session) (io.ReadCloser, error) {
	p.spawns.Add(1)
	pr, pw := io.Pipe()
	p.mu.Lock()
	p.writers = append(p.writers, pw)
	p.mu.Unlock()
	return pr, nil
}

// finish closes all writers cleanly so sessions observe EOF.
func (p *pipeSpawner) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pw := range p.writers {
		pw.Close()
	}
	p.writers = nil
}

func newTestManager(t *testing.T) (*Manager, *pipeSpawner) {
	t.Helper()
	spawner := &pipeSpawner{}
	mgr, err := NewManager(t.TempDir(), time.Minute, spawner.spawn)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Shutdown)
	return mgr, spawner
}

func testMedia(id string) models.MediaRef {
	return models.MediaRef{ID: id, Path: "/media/" + id + ".mkv", Format: "mkv", Video: true}
}

func testKey(mediaID, playerID string, maxBitRate int) SessionKey {
	return SessionKey{
		MediaID:    mediaID,
		PlayerID:   playerID,
		MaxBitRate: maxBitRate,
		Duration:   10,
		AudioTrack: -1,
	}
}

func writeSegment(t *testing.T, session *Session, index int) {
	t.Helper()
	if err := os.WriteFile(session.SegmentPath(index), []byte("ts-data"), 0644); err != nil {
		t.Fatalf("write segment %d: %v", index, err)
	}
}

func TestGetOrCreateDeduplicatesConcurrentRequests(t *testing.T) {
	mgr, spawner := newTestManager(t)
	key := testKey("m1", "p1", 1200)

	var wg sync.WaitGroup
	results := make([]*Session, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session, err := mgr.GetOrCreate(key, testMedia(key.MediaID))
			if err != nil {
				t.Errorf("GetOrCreate: %v", err)
				return
			}
			results[i] = session
		}(i)
	}
	wg.Wait()

	if got := spawner.spawns.Load(); got != 1 {
		t.Fatalf("expected exactly 1 spawn for identical keys, got %d", got)
	}
	for i := 1; i < len(results); i++ {
		if results[i] != results[0] {
			t.Fatalf("request %d got a different session", i)
		}
	}
}

func TestGetOrCreateEvictsSiblingSession(t *testing.T) {
	mgr, _ := newTestManager(t)

	old, err := mgr.GetOrCreate(testKey("m1", "p1", 400), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	other, err := mgr.GetOrCreate(testKey("m2", "p1", 400), testMedia("m2"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	replacement, err := mgr.GetOrCreate(testKey("m1", "p1", 800), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	if !old.Destroyed() {
		t.Fatal("old session for same media+player should be destroyed")
	}
	if _, err := os.Stat(old.Dir); !os.IsNotExist(err) {
		t.Fatalf("old session directory should be removed, stat err=%v", err)
	}
	if replacement.Destroyed() {
		t.Fatal("replacement session should be live")
	}
	if other.Destroyed() {
		t.Fatal("session for different media must not be evicted")
	}
	if _, ok := mgr.Get(testKey("m1", "p1", 400)); ok {
		t.Fatal("evicted session still registered")
	}
}

func TestWaitForSegmentReturnsReadyFile(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	// Segment 0 plus its successor on disk means 0 is fully written.
	writeSegment(t, session, 0)
	writeSegment(t, session, 1)

	path, err := mgr.WaitForSegment(context.Background(), session, 0, 5*time.Second)
	if err != nil {
		t.Fatalf("WaitForSegment: %v", err)
	}
	if path != session.SegmentPath(0) {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestWaitForSegmentBlocksUntilSuccessorAppears(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	writeSegment(t, session, 0)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.WaitForSegment(context.Background(), session, 0, 10*time.Second)
		done <- err
	}()

	select {
	case err := <-done:
		t.Fatalf("wait returned early: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	writeSegment(t, session, 1)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("WaitForSegment: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("wait did not unblock after successor segment appeared")
	}
}

func TestWaitForSegmentCompletionMakesLastSegmentReady(t *testing.T) {
	mgr, spawner := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	writeSegment(t, session, 0)

	// Clean EOF from the segmenter marks the run complete; the final
	// segment has no successor but must still be servable.
	spawner.finish()

	if _, err := mgr.WaitForSegment(context.Background(), session, 0, 5*time.Second); err != nil {
		t.Fatalf("WaitForSegment after completion: %v", err)
	}
}

func TestWaitForSegmentTimeout(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	started := time.Now()
	_, err = mgr.WaitForSegment(context.Background(), session, 0, 300*time.Millisecond)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if elapsed := time.Since(started); elapsed > 3*time.Second {
		t.Fatalf("timeout took too long: %v", elapsed)
	}
}

func TestWaitForSegmentPastEndOfOutput(t *testing.T) {
	mgr, spawner := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	spawner.finish()

	// Give the drain goroutine a moment to observe EOF.
	deadline := time.Now().Add(2 * time.Second)
	for !session.isCompleted() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	_, err = mgr.WaitForSegment(context.Background(), session, 7, 5*time.Second)
	if !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady for segment past end, got %v", err)
	}
}

func TestWaitForSegmentOnDestroyedSession(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := mgr.WaitForSegment(context.Background(), session, 0, 10*time.Second)
		done <- err
	}()
	time.Sleep(100 * time.Millisecond)

	mgr.Remove(session, "superseded")

	select {
	case err := <-done:
		if !errors.Is(err, ErrSessionDestroyed) {
			t.Fatalf("expected ErrSessionDestroyed, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("waiter not released by session destruction")
	}
}

func TestWaitForSegmentContextCancel(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()

	_, err = mgr.WaitForSegment(ctx, session, 0, 10*time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	mgr, _ := newTestManager(t)
	session, err := mgr.GetOrCreate(testKey("m1", "p1", 1200), testMedia("m1"))
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}

	mgr.Remove(session, "idle")
	mgr.Remove(session, "idle")

	if !session.Destroyed() {
		t.Fatal("session not destroyed")
	}
	if _, ok := mgr.Get(session.Key); ok {
		t.Fatal("destroyed session still registered")
	}
}

func TestEvictionDuringSpawnStopsSegmenter(t *testing.T) {
	block := make(chan struct{})
	var firstSpawn atomic.Bool
	var mu sync.Mutex
	var firstWriter *io.PipeWriter

	// The first spawn stalls until released, like a slow encoder start.
	spawn := func(ctx context.Context, session *Session) (io.ReadCloser, error) {
		pr, pw := io.Pipe()
		if firstSpawn.CompareAndSwap(false, true) {
			mu.Lock()
			firstWriter = pw
			mu.Unlock()
			<-block
		}
		return pr, nil
	}
	mgr, err := NewManager(t.TempDir(), time.Minute, spawn)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Shutdown)

	created := make(chan *Session, 1)
	go func() {
		session, _ := mgr.GetOrCreate(testKey("m1", "p1", 400), testMedia("m1"))
		created <- session
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !firstSpawn.Load() {
		if time.Now().After(deadline) {
			t.Fatal("first spawn never started")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Same media and player with new parameters evicts the stalled
	// session before its chain exists.
	if _, err := mgr.GetOrCreate(testKey("m1", "p1", 800), testMedia("m1")); err != nil {
		t.Fatalf("GetOrCreate replacement: %v", err)
	}

	close(block)
	old := <-created
	if old == nil {
		t.Fatal("stalled GetOrCreate returned no session")
	}
	if !old.Destroyed() {
		t.Fatal("superseded session should be destroyed")
	}

	// The late-arriving chain must not keep running unowned; writes
	// into it have to fail once the session is torn down.
	mu.Lock()
	pw := firstWriter
	mu.Unlock()
	deadline = time.Now().Add(2 * time.Second)
	for {
		if _, err := pw.Write([]byte("segment bytes")); err != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("segmenter of superseded session still accepts output")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestSpawnFailureUnregistersSession(t *testing.T) {
	failing := func(ctx context.Context, session *Session) (io.ReadCloser, error) {
		return nil, errors.New("no such transcoder")
	}
	mgr, err := NewManager(t.TempDir(), time.Minute, failing)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Shutdown)

	key := testKey("m1", "p1", 1200)
	if _, err := mgr.GetOrCreate(key, testMedia(key.MediaID)); err == nil {
		t.Fatal("expected spawn error")
	}
	if _, ok := mgr.Get(key); ok {
		t.Fatal("failed session must not stay registered")
	}
}
