// Package filename parses and generates watch image file names of the form
// {WATCH_ID}_{VIEW}_{face|tiltface}_q{QUALITY}.jpg.
package filename

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
)

var (
	taggedPattern  = regexp.MustCompile(`^(.+?)_(\d{2})_(face|tiltface)_q([123])\.jpg$`)
	legacyPattern  = regexp.MustCompile(`^(.+?)_(\d{2})_(face|tiltface)\.jpg$`)
	watchIDPattern = regexp.MustCompile(`^(.+?)_\d{2}_`)
)

// Metadata is what a file name encodes.
type Metadata struct {
	WatchID    string
	ViewNumber string
	ViewType   string
	// Quality is 1-3, or 0 for legacy names without a quality tag.
	Quality  int
	Filename string
	FullPath string
}

// Parse extracts metadata from path's base name. It returns false for names
// that follow neither the tagged nor the legacy pattern.
func Parse(path string) (Metadata, bool) {
	name := filepath.Base(path)
	if m := taggedPattern.FindStringSubmatch(name); m != nil {
		q, _ := strconv.Atoi(m[4])
		return Metadata{WatchID: m[1], ViewNumber: m[2], ViewType: m[3], Quality: q, Filename: name, FullPath: path}, true
	}
	if m := legacyPattern.FindStringSubmatch(name); m != nil {
		return Metadata{WatchID: m[1], ViewNumber: m[2], ViewType: m[3], Filename: name, FullPath: path}, true
	}
	return Metadata{}, false
}

// ImageID is the quality-agnostic identifier used as the annotation key.
func (m Metadata) ImageID() string {
	return fmt.Sprintf("%s_%s_%s", m.WatchID, m.ViewNumber, m.ViewType)
}

// Generate builds the file name for m.
func Generate(m Metadata) string {
	if m.Quality > 0 {
		return fmt.Sprintf("%s_q%d.jpg", m.ImageID(), m.Quality)
	}
	return m.ImageID() + ".jpg"
}

// ImageID parses name and returns its quality-agnostic identifier.
func ImageID(name string) (string, error) {
	m, ok := Parse(name)
	if !ok {
		return "", fmt.Errorf("malformed image file name %q", filepath.Base(name))
	}
	return m.ImageID(), nil
}

// WatchID returns the watch identifier prefix of name, if any.
func WatchID(name string) (string, bool) {
	m := watchIDPattern.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return "", false
	}
	return m[1], true
}
