// Package core provides the shared execution model for devicepool: the
// typed error taxonomy, the session and backend boundaries, and the
// artifact types produced when element resolution fails.
package core

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Attachment represents a debug artifact captured during resolution or
// session teardown
type Attachment struct {
	Name        string `json:"name"`        // Descriptive name: screenshot, resolve_trace
	ContentType string `json:"contentType"` // MIME type: image/png, application/json
	Path        string `json:"path"`        // File path once stored, empty for in-memory
	Body        []byte `json:"-"`           // In-memory content (not serialized to JSON)
}

// Common attachment names
const (
	AttachmentScreenshot   = "screenshot"
	AttachmentResolveTrace = "resolve_trace"
)

// Common content types
const (
	ContentTypePNG  = "image/png"
	ContentTypeJSON = "application/json"
	ContentTypeText = "text/plain"
)

// NewScreenshotAttachment creates a screenshot attachment
func NewScreenshotAttachment(data []byte) Attachment {
	return Attachment{
		Name:        AttachmentScreenshot,
		ContentType: ContentTypePNG,
		Body:        data,
	}
}

// NewResolveTraceAttachment creates an attachment holding the serialized
// attempt trace of a failed resolution
func NewResolveTraceAttachment(data []byte) Attachment {
	return Attachment{
		Name:        AttachmentResolveTrace,
		ContentType: ContentTypeJSON,
		Body:        data,
	}
}

// ArtifactConfig controls when resolution artifacts are captured
type ArtifactConfig struct {
	// CaptureOnResolveFailure captures a screenshot when every strategy of
	// a chain has been exhausted. Default: true.
	CaptureOnResolveFailure bool `yaml:"captureOnResolveFailure" json:"captureOnResolveFailure"`
	// AnnotateAttempts draws the regions coordinate and relative attempts
	// targeted onto the failure screenshot. Default: true.
	AnnotateAttempts bool `yaml:"annotateAttempts" json:"annotateAttempts"`
}

// DefaultArtifactConfig returns sensible defaults for artifact capture
func DefaultArtifactConfig() ArtifactConfig {
	return ArtifactConfig{
		CaptureOnResolveFailure: true,
		AnnotateAttempts:        true,
	}
}

// ArtifactSink stores captured artifacts. Implementations decide where
// attachments end up (directory, report uploader, nowhere).
type ArtifactSink interface {
	// Save stores the attachment and returns its stored path, if any.
	Save(att Attachment) (string, error)
}

// NullArtifactSink is a no-op sink for tests and disabled capture
type NullArtifactSink struct{}

// Save discards the attachment
func (NullArtifactSink) Save(_ Attachment) (string, error) { return "", nil }

// DirArtifactSink writes attachments into a directory, one file per
// attachment, named by attachment name and capture time.
type DirArtifactSink struct {
	Dir string
}

// Save writes the attachment body under the sink directory
func (s DirArtifactSink) Save(att Attachment) (string, error) {
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact dir: %w", err)
	}

	ext := ".bin"
	switch att.ContentType {
	case ContentTypePNG:
		ext = ".png"
	case ContentTypeJSON:
		ext = ".json"
	case ContentTypeText:
		ext = ".txt"
	}

	name := fmt.Sprintf("%s-%s%s", att.Name, time.Now().Format("20060102-150405.000"), ext)
	path := filepath.Join(s.Dir, name)
	if err := os.WriteFile(path, att.Body, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return path, nil
}
