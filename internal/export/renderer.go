package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fakeyudi/vidnote/internal/annotation"
)

// Renderer serializes a Document to bytes.
type Renderer interface {
	Render(doc *Document) ([]byte, error)
}

// JSONRenderer renders a Document as indented JSON.
type JSONRenderer struct{}

func (r *JSONRenderer) Render(doc *Document) ([]byte, error) {
	return json.MarshalIndent(doc, "", "  ")
}

// YAMLRenderer renders a Document as YAML.
type YAMLRenderer struct{}

func (r *YAMLRenderer) Render(doc *Document) ([]byte, error) {
	return yaml.Marshal(doc)
}

// MarkdownRenderer renders a Document as a human-readable timeline with
// an embedded base64 JSON payload for lossless round-trip parsing.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Render(doc *Document) ([]byte, error) {
	// Marshal the document to JSON and base64-encode it for the embedded payload.
	jsonBytes, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}
	encoded := base64.StdEncoding.EncodeToString(jsonBytes)

	var sb strings.Builder

	// Sentinel and embedded payload.
	sb.WriteString(versionSentinel + "\n")
	fmt.Fprintf(&sb, "%s%s%s\n\n", dataPrefix, encoded, dataSuffix)

	// Title.
	fmt.Fprintf(&sb, "# Annotations: %s\n\n", doc.Video.ID)

	// ## Summary
	sb.WriteString("## Summary\n\n")
	fmt.Fprintf(&sb, "- Exported: %s\n", doc.Video.ExportedAt.Format("2006-01-02 15:04:05 MST"))
	if doc.Video.Author != "" {
		fmt.Fprintf(&sb, "- Author: %s\n", doc.Video.Author)
	}
	fmt.Fprintf(&sb, "- Annotations: %d\n", len(doc.Annotations))
	sb.WriteString("\n")

	// ## Timeline
	sb.WriteString("## Timeline\n\n")
	if len(doc.Annotations) == 0 {
		sb.WriteString("_No annotations._\n")
	} else {
		sb.WriteString("| Time | Text | Position |\n")
		sb.WriteString("|------|------|----------|\n")
		for _, a := range doc.Annotations {
			fmt.Fprintf(&sb, "| %s | %s | %.2f, %.2f |\n",
				annotation.FormatTime(a.TimeMs),
				escapeCell(a.Text),
				a.X, a.Y,
			)
		}
	}
	sb.WriteString("\n")

	return []byte(sb.String()), nil
}

// escapeCell keeps free text from breaking a table row.
func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
