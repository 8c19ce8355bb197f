package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	s := String("yolo-loftr-homography-v1.0")
	assert.Contains(t, s, "watch-keypoints "+Version)
	assert.Contains(t, s, "pipeline yolo-loftr-homography-v1.0")
	assert.Contains(t, s, "commit "+GitCommit)
}
