package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names written into an event's report directory.
const (
	DataFile = "data.json"
	HTMLFile = "report.html"
)

// Marshal encodes a report as indented JSON.
func Marshal(r *Report) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report %s: %w", r.EventID, err)
	}
	return data, nil
}

// Parse decodes a report document.
func Parse(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	if r.Loggers == nil {
		r.Loggers = map[string]LoggerReport{}
	}
	return &r, nil
}

// WriteFiles stores data.json and report.html under dir/<event_id>/ and
// returns the directory used.
func WriteFiles(dir string, r *Report, doc []byte, html []byte) (string, error) {
	eventDir := filepath.Join(dir, DirName(r.EventID))
	if err := os.MkdirAll(eventDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(eventDir, DataFile), doc, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", DataFile, err)
	}
	if err := os.WriteFile(filepath.Join(eventDir, HTMLFile), html, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", HTMLFile, err)
	}
	return eventDir, nil
}

// DirName maps an event id onto a single safe path element.
func DirName(eventID string) string {
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(strings.TrimSpace(eventID))
	if name == "" || name == "." {
		return "_"
	}
	return name
}
