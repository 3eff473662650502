package annotation

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned by Delete when no annotation has the given ID.
	ErrNotFound = errors.New("annotation not found")
	// ErrInvalidVideoID is returned for video IDs that cannot name a file.
	ErrInvalidVideoID = errors.New("invalid video id")
)

// Store persists annotations per video.
type Store interface {
	// Load returns every annotation of the video, soft-deleted ones included,
	// sorted by time. A video without annotations yields an empty list.
	Load(videoID string) ([]Annotation, error)
	// Save inserts or replaces a by ID.
	Save(a Annotation) error
	// Delete removes an annotation permanently.
	Delete(videoID, id string) error
	Close() error
}

// videoFile is the on-disk layout of one video's annotations.
type videoFile struct {
	VideoID     string       `json:"video_id"`
	Annotations []Annotation `json:"annotations"`
}

// DiskStore keeps one JSON file per video under a directory.
type DiskStore struct {
	dir string
}

// NewDiskStore returns a DiskStore rooted at dir, creating it if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating annotation directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// DataDir returns the vidnote-specific XDG data directory.
// Path: $XDG_DATA_HOME/vidnote or ~/.local/share/vidnote
func DataDir() (string, error) {
	base := os.Getenv("XDG_DATA_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(base, "vidnote"), nil
}

// Path returns the file holding videoID's annotations.
func (d *DiskStore) Path(videoID string) (string, error) {
	if videoID == "" || strings.ContainsAny(videoID, `/\`) || videoID == "." || videoID == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidVideoID, videoID)
	}
	return filepath.Join(d.dir, videoID+".json"), nil
}

func (d *DiskStore) Load(videoID string) ([]Annotation, error) {
	path, err := d.Path(videoID)
	if err != nil {
		return nil, err
	}
	f, err := d.read(path)
	if err != nil {
		return nil, err
	}
	Sort(f.Annotations)
	return f.Annotations, nil
}

func (d *DiskStore) Save(a Annotation) error {
	if err := a.Validate(); err != nil {
		return err
	}
	path, err := d.Path(a.VideoID)
	if err != nil {
		return err
	}
	f, err := d.read(path)
	if err != nil {
		return err
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = time.Now().UTC()
	}
	replaced := false
	for i := range f.Annotations {
		if f.Annotations[i].ID == a.ID {
			f.Annotations[i] = a
			replaced = true
			break
		}
	}
	if !replaced {
		f.Annotations = append(f.Annotations, a)
	}
	Sort(f.Annotations)
	f.VideoID = a.VideoID
	return d.write(path, f)
}

func (d *DiskStore) Delete(videoID, id string) error {
	path, err := d.Path(videoID)
	if err != nil {
		return err
	}
	f, err := d.read(path)
	if err != nil {
		return err
	}
	for i := range f.Annotations {
		if f.Annotations[i].ID == id {
			f.Annotations = append(f.Annotations[:i], f.Annotations[i+1:]...)
			return d.write(path, f)
		}
	}
	return ErrNotFound
}

func (d *DiskStore) Close() error { return nil }

// read loads a video file; a missing file is an empty video.
func (d *DiskStore) read(path string) (*videoFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &videoFile{Annotations: []Annotation{}}, nil
		}
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	var f videoFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse annotations %s: %w", path, err)
	}
	if f.Annotations == nil {
		f.Annotations = []Annotation{}
	}
	return &f, nil
}

// write marshals f to JSON and writes it atomically via a temp file + os.Rename.
func (d *DiskStore) write(path string, f *videoFile) (err error) {
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to persist annotations: %w", err)
	}

	// Write to a temp file in the same directory so os.Rename is atomic.
	tmp, err := os.CreateTemp(filepath.Dir(path), "annotations-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to persist annotations: %w", err)
	}
	tmpName := tmp.Name()

	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to persist annotations: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("failed to persist annotations: %w", err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to persist annotations: %w", err)
	}
	return nil
}
