package models

import (
	"fmt"
	"strings"
	"time"
)

const (
	maxTitleLength       = 100
	maxDescriptionLength = 5000
	maxTagsLength        = 500
)

// VideoMetadata is the descriptive payload sent when a session is initiated.
//
// The engine never inspects it; only the transport serialises it.
type VideoMetadata struct {
	Title         string   `json:"title" toml:"title"`
	Description   string   `json:"description,omitempty" toml:"description"`
	Tags          []string `json:"tags,omitempty" toml:"tags"`
	CategoryID    string   `json:"category_id,omitempty" toml:"category_id"`
	PrivacyStatus string   `json:"privacy_status,omitempty" toml:"privacy_status"`
	Language      string   `json:"language,omitempty" toml:"language"`
	Playlist      string   `json:"playlist,omitempty" toml:"playlist"`
}

// Validate enforces the limits the upload endpoint applies to snippets.
func (m VideoMetadata) Validate() error {
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("title is required")
	}
	if n := len([]rune(m.Title)); n > maxTitleLength {
		return fmt.Errorf("title is %d characters, maximum is %d", n, maxTitleLength)
	}
	if n := len([]rune(m.Description)); n > maxDescriptionLength {
		return fmt.Errorf("description is %d characters, maximum is %d", n, maxDescriptionLength)
	}

	total := 0
	for _, tag := range m.Tags {
		total += len([]rune(tag))
	}
	if total > maxTagsLength {
		return fmt.Errorf("tags total %d characters, maximum is %d", total, maxTagsLength)
	}
	return nil
}

// UploadUnit is one file to upload. Its identity is derived from path, size and
// modification time, so an edited file becomes a different unit.
type UploadUnit struct {
	Identity   string
	Path       string
	Name       string
	Size       int64
	ModTime    time.Time
	Metadata   VideoMetadata
	Collection string
}

// Validate checks the invariants the engine relies on.
func (u UploadUnit) Validate() error {
	if u.Identity == "" {
		return fmt.Errorf("unit %q has no identity", u.Path)
	}
	if u.Path == "" {
		return fmt.Errorf("unit %s has no path", u.Identity)
	}
	if u.Size < 0 {
		return fmt.Errorf("unit %q has negative size", u.Path)
	}
	return nil
}

// ShortID returns an abbreviated identity for display.
func (u UploadUnit) ShortID() string {
	return ShortIdentity(u.Identity)
}

// ShortIdentity abbreviates an identity hash to twelve characters.
func ShortIdentity(identity string) string {
	if len(identity) > 12 {
		return identity[:12]
	}
	return identity
}
