package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("chatty", &bytes.Buffer{}); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestNewFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, "shown") {
		t.Errorf("unexpected output: %q", out)
	}
}

func TestSessionLoggerTagsVideo(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ForSession(log, "clip-7").StorageFailed("save", "abc", errors.New("disk full"))

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("not a JSON line: %q", buf.String())
	}
	if line["video-id"] != "clip-7" {
		t.Errorf("video-id: got %v, want clip-7", line["video-id"])
	}
	if line["annotation-id"] != "abc" || line["error"] != "disk full" {
		t.Errorf("fields missing: %v", line)
	}
	if line["level"] != "error" {
		t.Errorf("level: got %v, want error", line["level"])
	}
}
