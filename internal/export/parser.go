package export

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	versionSentinel = "<!-- vidnote-export-version: 1 -->"
	dataPrefix      = "<!-- vidnote-data: "
	dataSuffix      = " -->"
)

// Parser deserializes an exported file back into structured data.
type Parser interface {
	Parse(data []byte) (*Document, error)
}

// JSONParser parses a JSON-encoded Document.
type JSONParser struct{}

func (p *JSONParser) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON export: %w", err)
	}
	return &doc, nil
}

// YAMLParser parses a YAML-encoded Document.
type YAMLParser struct{}

func (p *YAMLParser) Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML export: %w", err)
	}
	if doc.Video.ID == "" {
		return nil, fmt.Errorf("failed to parse YAML export: missing video id")
	}
	return &doc, nil
}

// MarkdownParser parses a Markdown export by extracting the embedded base64
// JSON payload from the sentinel comments.
type MarkdownParser struct{}

func (p *MarkdownParser) Parse(data []byte) (*Document, error) {
	content := string(data)

	// Require the version sentinel.
	if !strings.Contains(content, versionSentinel) {
		return nil, fmt.Errorf("not a valid vidnote export: missing version sentinel")
	}

	start := strings.Index(content, dataPrefix)
	if start == -1 {
		return nil, fmt.Errorf("not a valid vidnote export: missing data payload")
	}
	start += len(dataPrefix)
	end := strings.Index(content[start:], dataSuffix)
	if end == -1 {
		return nil, fmt.Errorf("not a valid vidnote export: malformed data payload")
	}
	encoded := content[start : start+end]

	jsonBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("not a valid vidnote export: corrupted base64 payload: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(jsonBytes, &doc); err != nil {
		return nil, fmt.Errorf("not a valid vidnote export: failed to parse embedded JSON: %w", err)
	}
	return &doc, nil
}
