package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrNoBookmark is returned by Load when no position was saved for a video.
var ErrNoBookmark = errors.New("no saved position")

// Bookmark is where playback of a video stopped last time.
type Bookmark struct {
	VideoID    string    `json:"video_id"`
	PositionMs uint64    `json:"position_ms"`
	SavedAt    time.Time `json:"saved_at"`
}

// BookmarkStore persists the last playback position per video.
type BookmarkStore interface {
	Save(b Bookmark) error
	Load(videoID string) (*Bookmark, error) // returns ErrNoBookmark if none exists
	Delete(videoID string) error
}

// diskStore is the concrete BookmarkStore: one JSON file for all videos.
type diskStore struct {
	path string // full path to bookmarks.json
}

// NewBookmarkStore returns a BookmarkStore keeping bookmarks.json in dir.
func NewBookmarkStore(dir string) (BookmarkStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &diskStore{path: filepath.Join(dir, "bookmarks.json")}, nil
}

func (d *diskStore) Save(b Bookmark) error {
	all, err := d.read()
	if err != nil {
		return err
	}
	all[b.VideoID] = b
	return d.write(all)
}

// Load returns ErrNoBookmark if the video has no saved position.
func (d *diskStore) Load(videoID string) (*Bookmark, error) {
	all, err := d.read()
	if err != nil {
		return nil, err
	}
	b, ok := all[videoID]
	if !ok {
		return nil, ErrNoBookmark
	}
	return &b, nil
}

func (d *diskStore) Delete(videoID string) error {
	all, err := d.read()
	if err != nil {
		return err
	}
	if _, ok := all[videoID]; !ok {
		return nil
	}
	delete(all, videoID)
	return d.write(all)
}

func (d *diskStore) read() (map[string]Bookmark, error) {
	data, err := os.ReadFile(d.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]Bookmark{}, nil
		}
		return nil, fmt.Errorf("failed to read bookmarks: %w", err)
	}
	all := map[string]Bookmark{}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to parse bookmarks: %w", err)
	}
	return all, nil
}

// write marshals all bookmarks and writes them atomically via a temp file + os.Rename.
func (d *diskStore) write(all map[string]Bookmark) (err error) {
	data, err := json.Marshal(all)
	if err != nil {
		return fmt.Errorf("failed to persist bookmarks: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(d.path), "bookmarks-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist bookmarks: %w", err)
	}
	tmpName := tmp.Name()

	// Clean up the temp file on any error path.
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist bookmarks: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist bookmarks: %w", err)
	}
	if err = os.Rename(tmpName, d.path); err != nil {
		return fmt.Errorf("failed to persist bookmarks: %w", err)
	}
	return nil
}
