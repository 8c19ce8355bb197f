package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func touch(t *testing.T, path string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, nil, 0644))
}

func scanFixture(t *testing.T) *Scanner {
	root := t.TempDir()
	images := filepath.Join(root, "images")
	touch(t, filepath.Join(images, "W1", "W1_01_face_q1.jpg"))
	touch(t, filepath.Join(images, "W1", "W1_01_face_q2.jpg"))
	touch(t, filepath.Join(images, "W1", "W1_02_side_q1.jpg"))
	touch(t, filepath.Join(images, "W1", "W1_03_tiltface.jpg"))
	touch(t, filepath.Join(images, "W1", "notes.txt"))
	touch(t, filepath.Join(images, "W2", "W2_01_face_q3.jpg"))
	touch(t, filepath.Join(images, "stray.jpg"))

	labels := filepath.Join(root, "labels")
	writeJSON(t, filepath.Join(labels, "W2.json"), map[string]any{"W2_01_face": map[string]any{}})
	writeJSON(t, filepath.Join(labels, "broken.json"), []int{1, 2})

	return NewScanner(images, labels, filepath.Join(root, "out"), golog.NewTestLogger(t))
}

func TestScanSkipsExisting(t *testing.T) {
	s := scanFixture(t)
	items, skipped, err := s.Scan(true, "")
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, items, 2)

	assert.Equal(t, "W1_01_face", items[0].ImageID)
	assert.Equal(t, "W1", items[0].WatchID)
	assert.Equal(t, "W1_01_face_q1.jpg", filepath.Base(items[0].Path), "first file of an image id wins")
	assert.Equal(t, "W1_03_tiltface", items[1].ImageID)
}

func TestScanForceIncludesExisting(t *testing.T) {
	s := scanFixture(t)
	items, skipped, err := s.Scan(false, "")
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Len(t, items, 3)
}

func TestScanWatchFilter(t *testing.T) {
	s := scanFixture(t)
	items, skipped, err := s.Scan(true, "W2")
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, 1, skipped)

	items, _, err = s.Scan(false, "W2")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "W2_01_face", items[0].ImageID)
}

func TestScanMissingDirectory(t *testing.T) {
	s := NewScanner(filepath.Join(t.TempDir(), "nope"), "", "", golog.NewTestLogger(t))
	_, _, err := s.Scan(true, "")
	require.Error(t, err)
}
