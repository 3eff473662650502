package cmd

import (
	"errors"
	"strings"
	"testing"

	"github.com/fakeyudi/vidnote/internal/session"
)

func TestPlayPlainPrintsSubtitles(t *testing.T) {
	dataDir := isolate(t)
	t.Setenv("VIDNOTE_DISPLAY_DURATION", "100ms")
	mustExecute(t, "note", "add", "clip", "0:00.300", "left")
	mustExecute(t, "note", "add", "clip", "0:00.300", "right")
	mustExecute(t, "note", "add", "clip", "0:00.700", "later")

	out := mustExecute(t, "play", "clip", "--plain", "--duration", "1s", "--log-level", "error")

	// Annotations sharing an instant come out on one line, ordered by id.
	shared := ""
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "[0:00.300] ") {
			shared = line
		}
	}
	if !strings.Contains(shared, "left") || !strings.Contains(shared, "right") || !strings.Contains(shared, " | ") {
		t.Errorf("shared instant not one batch:\n%s", out)
	}
	if !strings.Contains(out, "[0:00.700] later\n") {
		t.Errorf("output missing later annotation:\n%s", out)
	}

	// Playback ran to the end, so the next run starts over.
	bookmarks, err := session.NewBookmarkStore(dataDir)
	if err != nil {
		t.Fatalf("NewBookmarkStore: %v", err)
	}
	b, err := bookmarks.Load("clip")
	if err != nil {
		t.Fatalf("bookmark: %v", err)
	}
	if b.PositionMs != 0 {
		t.Errorf("bookmark mismatch: got %d, want 0", b.PositionMs)
	}
}

func TestPlayStartSkipsEarlierAnnotations(t *testing.T) {
	isolate(t)
	// Far enough from both the start offset and 0, where the player rewinds
	// to at the end, that no seek shows it.
	mustExecute(t, "note", "add", "clip", "0:00.700", "skipped")

	out := mustExecute(t, "play", "clip", "--plain", "--duration", "2s", "--start", "0:01.500", "--log-level", "error")
	if strings.Contains(out, "skipped") {
		t.Errorf("annotation before --start was shown:\n%s", out)
	}
}

func TestPlayWithoutSourceFails(t *testing.T) {
	isolate(t)
	_, err := executeCommand(t, "", "play", "clip", "--plain", "--duration", "0s", "--log-level", "error")
	if err == nil || !strings.Contains(err.Error(), "playback error") {
		t.Fatalf("expected playback error, got %v", err)
	}
}

func TestStartOffset(t *testing.T) {
	dataDir := isolate(t)
	bookmarks, err := session.NewBookmarkStore(dataDir)
	if err != nil {
		t.Fatalf("NewBookmarkStore: %v", err)
	}

	playStart = ""
	if ms, err := startOffset(bookmarks, "clip"); err != nil || ms != 0 {
		t.Errorf("no bookmark: got %d, %v", ms, err)
	}
	if err := bookmarks.Save(session.Bookmark{VideoID: "clip", PositionMs: 1234}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if ms, _ := startOffset(bookmarks, "clip"); ms != 1234 {
		t.Errorf("bookmark offset mismatch: got %d, want 1234", ms)
	}

	playStart = "1:00"
	defer func() { playStart = "" }()
	if ms, _ := startOffset(bookmarks, "clip"); ms != 60_000 {
		t.Errorf("explicit offset mismatch: got %d, want 60000", ms)
	}
	playStart = "later"
	if _, err := startOffset(bookmarks, "clip"); err == nil || errors.Is(err, session.ErrNoBookmark) {
		t.Errorf("expected parse error, got %v", err)
	}
}
