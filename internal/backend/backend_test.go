package backend

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watch-keypoints/internal/config"
	"watch-keypoints/internal/template"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	modelDir := filepath.Join(dir, "templates", "nab")
	require.NoError(t, os.MkdirAll(modelDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(modelDir, template.AnnotationsFile), []byte(`{
  "image_size": [64, 48],
  "coords_norm": {"top": [0.5, 0.1], "bottom": [0.5, 0.9], "left": [0.1, 0.5], "right": [0.9, 0.5], "center": [0.5, 0.5]}
}`), 0644))
	img := imaging.New(64, 48, color.NRGBA{R: 200, G: 180, B: 160, A: 255})
	require.NoError(t, imaging.Save(img, filepath.Join(modelDir, "template.jpg")))

	cfg := config.Default()
	cfg.Template.TemplatesDir = filepath.Join(dir, "templates")
	cfg.Detector.CheckpointPath = filepath.Join(dir, "models", "missing.onnx")
	cfg.Matcher.ModelsDir = filepath.Join(dir, "models")
	return cfg
}

func TestOpenMissingTemplate(t *testing.T) {
	cfg := testConfig(t)
	cfg.Template.Model = "rolex"
	_, err := Open(cfg, golog.NewTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Available templates: nab")
}

func TestOpenMissingDetector(t *testing.T) {
	cfg := testConfig(t)
	_, _, err := NewPipeline(cfg, golog.NewTestLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "YOLO checkpoint not found")
}

func TestCloseIsIdempotent(t *testing.T) {
	b := &Backends{}
	assert.NoError(t, b.Close())
	assert.NoError(t, b.Close())
}
