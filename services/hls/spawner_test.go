package hls

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"airstream/config"
	"airstream/models"
)

type stubRules struct{ rules []models.Transcoding }

func (s stubRules) ActiveRules(playerID string) []models.Transcoding { return s.rules }

type stubPaths struct{ root string }

func (s stubPaths) AbsolutePath(media models.MediaRef) string {
	return filepath.Join(s.root, media.Path)
}

func scratchFiles(t *testing.T) map[string]bool {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(os.TempDir(), "airstream-input-*"))
	if err != nil {
		t.Fatalf("glob scratch files: %v", err)
	}
	set := make(map[string]bool, len(matches))
	for _, m := range matches {
		set[m] = true
	}
	return set
}

func TestChainSpawnerRunsSegmentCommand(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "input.mkv"), []byte("input"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	settings := config.TranscodeSettings{HLSCommand: "cat %s"}
	spawner := NewChainSpawner(settings, stubRules{}, stubPaths{root: root})
	media := models.MediaRef{ID: "m1", Path: "input.mkv", Format: "mkv", Video: true}
	session := newSession(testKey("m1", "p1", 400), media, t.TempDir())

	chain, err := spawner.Spawn(context.Background(), session)
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer chain.Close()

	out, err := io.ReadAll(chain)
	if err != nil {
		t.Fatalf("read chain output: %v", err)
	}
	if string(out) != "input" {
		t.Fatalf("unexpected chain output %q", out)
	}
}

func TestSpawnFailureRemovesScratchCopy(t *testing.T) {
	root := t.TempDir()
	// A control character in the name forces the scratch copy.
	name := "bad\x01name.mkv"
	if err := os.WriteFile(filepath.Join(root, name), []byte("input"), 0644); err != nil {
		t.Fatalf("write input: %v", err)
	}

	// The transcoder resolves by stat but cannot be executed, so the
	// chain fails after the scratch copy was made.
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "fakeenc"), []byte("not a binary"), 0644); err != nil {
		t.Fatalf("write stub transcoder: %v", err)
	}

	settings := config.TranscodeSettings{Directory: dir, HLSCommand: "fakeenc -i %s -hls_segment_filename %n %p"}
	spawner := NewChainSpawner(settings, stubRules{}, stubPaths{root: root})
	media := models.MediaRef{ID: "m1", Path: name, Format: "mkv", Video: true}
	session := newSession(testKey("m1", "p1", 400), media, t.TempDir())

	before := scratchFiles(t)
	if _, err := spawner.Spawn(context.Background(), session); err == nil {
		t.Fatal("expected spawn failure")
	}
	for path := range scratchFiles(t) {
		if !before[path] {
			t.Fatalf("scratch copy %s left behind after failed spawn", path)
		}
	}
}
