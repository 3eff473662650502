package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/fakeyudi/vidnote/internal/annotation"
	"github.com/fakeyudi/vidnote/internal/config"
	"github.com/fakeyudi/vidnote/internal/session"
)

// dataDir returns the configured data directory or the XDG default.
func dataDir(c config.Config) (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return annotation.DataDir()
}

// stores bundles the persistence a command needs.
type stores struct {
	annotations annotation.Store
	bookmarks   session.BookmarkStore
	// watchPath returns the file to watch for external edits of a video's
	// annotations, or "" when the backend has no such file.
	watchPath func(videoID string) string
}

func (s *stores) Close() error {
	return s.annotations.Close()
}

// openStores opens the annotation backend selected by c.Store.
func openStores(c config.Config) (*stores, error) {
	dir, err := dataDir(c)
	if err != nil {
		return nil, fmt.Errorf("locating data directory: %w", err)
	}
	bookmarks, err := session.NewBookmarkStore(dir)
	if err != nil {
		return nil, err
	}

	switch c.Store {
	case config.StoreSQLite:
		db, err := annotation.NewSQLiteStore(filepath.Join(dir, "annotations.db"))
		if err != nil {
			return nil, err
		}
		return &stores{
			annotations: db,
			bookmarks:   bookmarks,
			watchPath:   func(string) string { return "" },
		}, nil
	default:
		disk, err := annotation.NewDiskStore(filepath.Join(dir, "annotations"))
		if err != nil {
			return nil, err
		}
		return &stores{
			annotations: disk,
			bookmarks:   bookmarks,
			watchPath: func(videoID string) string {
				path, err := disk.Path(videoID)
				if err != nil {
					return ""
				}
				return path
			},
		}, nil
	}
}
