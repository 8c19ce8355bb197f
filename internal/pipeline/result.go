package pipeline

import (
	"watch-keypoints/internal/keypoints"
)

// Stage is a pipeline state. The stage that decided a result's path is
// recorded under debug_info["stage"]: done for a projected homography, the
// triggering stage for a fallback or failure.
type Stage string

const (
	StageLoadImage  Stage = "load_image"
	StageDetect     Stage = "detect"
	StageMatch      Stage = "match"
	StageHomography Stage = "homography"
	StageProject    Stage = "project"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// Method names recorded under debug_info["method"].
const (
	MethodHomography         = "YOLO-LoFTR-Homography"
	MethodFallbackMatches    = "YOLO-OBB-Fallback (insufficient LoFTR matches)"
	MethodFallbackHomography = "YOLO-OBB-Fallback (homography failed)"
)

// Failure reasons recorded under debug_info["reason"].
const (
	ReasonImageLoadFailed      = "image_load_failed"
	ReasonNoOBBAfterMatching   = "insufficient_matches_no_obb_fallback"
	ReasonNoOBBAfterHomography = "homography_failed_no_obb_fallback"
	ReasonPipelineError        = "pipeline_error"
	ReasonCancelled            = "cancelled"
)

// ProjectionSingular is recorded under debug_info["projection_fallback"] when
// the accepted homography could not be inverted.
const ProjectionSingular = "singular_homography"

// Result is the outcome of one prediction. Keypoints is nil unless Success.
// A Result is not modified after it is returned.
type Result struct {
	Success      bool           `json:"success"`
	Keypoints    *keypoints.Set `json:"keypoints"`
	Confidence   float64        `json:"confidence"`
	ImageWidth   int            `json:"image_width"`
	ImageHeight  int            `json:"image_height"`
	DebugInfo    map[string]any `json:"debug_info"`
	ErrorMessage string         `json:"error_message,omitempty"`
}

// Method returns debug_info["method"], or "" when absent.
func (r Result) Method() string {
	m, _ := r.DebugInfo["method"].(string)
	return m
}

// Reason returns debug_info["reason"], or "" when absent.
func (r Result) Reason() string {
	s, _ := r.DebugInfo["reason"].(string)
	return s
}

func failed(width, height int, message string, debug map[string]any) Result {
	return Result{
		ImageWidth:   width,
		ImageHeight:  height,
		DebugInfo:    debug,
		ErrorMessage: message,
	}
}
