// Package export renders a video's annotations to shareable files and
// parses them back for import.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/fakeyudi/vidnote/internal/annotation"
)

// Document is the complete, renderable representation of a video's
// annotations.
type Document struct {
	Video       VideoMeta               `json:"video" yaml:"video"`
	Annotations []annotation.Annotation `json:"annotations" yaml:"annotations"`
}

// VideoMeta holds summary metadata for the document.
type VideoMeta struct {
	ID         string    `json:"id" yaml:"id"`
	ExportedAt time.Time `json:"exported_at" yaml:"exported_at"`
	Author     string    `json:"author,omitempty" yaml:"author,omitempty"`
}

// New builds a Document from the live annotations in list.
func New(videoID, author string, list []annotation.Annotation) *Document {
	live := make([]annotation.Annotation, 0, len(list))
	for _, a := range list {
		if a.Alive {
			live = append(live, a)
		}
	}
	annotation.Sort(live)
	return &Document{
		Video: VideoMeta{
			ID:         videoID,
			ExportedAt: time.Now().UTC().Truncate(time.Second),
			Author:     author,
		},
		Annotations: live,
	}
}

// RendererFor returns the renderer for a format name.
func RendererFor(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "json":
		return &JSONRenderer{}, nil
	case "yaml", "yml":
		return &YAMLRenderer{}, nil
	case "markdown", "md":
		return &MarkdownRenderer{}, nil
	}
	return nil, fmt.Errorf("unknown format %q (want markdown, json or yaml)", format)
}

// Extension returns the file extension used for a format.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "json":
		return ".json"
	case "yaml", "yml":
		return ".yaml"
	}
	return ".md"
}

// ParserFor picks a parser from the file extension of path.
func ParserFor(path string) (Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return &JSONParser{}, nil
	case ".yaml", ".yml":
		return &YAMLParser{}, nil
	case ".md", ".markdown":
		return &MarkdownParser{}, nil
	}
	return nil, fmt.Errorf("cannot tell the format of %s", path)
}
