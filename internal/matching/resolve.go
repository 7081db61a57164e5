package matching

import "github.com/kozaktomas/pagefinder/internal/homography"

// Reason explains why a page was not recognized.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonSkipped           Reason = "skipped"
	ReasonTooFew            Reason = "too_few_correspondences"
	ReasonEstimationFailed  Reason = "estimation_failed"
	ReasonTooFewInliers     Reason = "too_few_inliers"
	ReasonPoseFitFailed     Reason = "pose_fit_failed"
	ReasonPoseErrorTooLarge Reason = "pose_error_too_large"
)

// PageResult is the outcome of matching one frame against one page.
type PageResult struct {
	PageID          int               `json:"page_id"`
	H               homography.Matrix `json:"homography"`
	Pose            [3][4]float64     `json:"pose"`
	Error           float64           `json:"error"` // mean squared reprojection error, px²
	Inliers         int               `json:"inliers"`
	Correspondences int               `json:"correspondences"`
	Trials          int               `json:"trials"`
	Valid           bool              `json:"valid"`
	Reason          Reason            `json:"reason,omitempty"`
	Matches         []MatchRef        `json:"-"` // inlier feature pairs when valid
}

// Resolve picks the recognized page among per-page results, in page order.
// The first valid result is accepted unconditionally and later results
// replace it only with a strictly lower error. It reports false when no
// result is valid.
func Resolve(results []PageResult) (PageResult, bool) {
	var best PageResult
	found := false
	for _, r := range results {
		if !r.Valid {
			continue
		}
		if !found || r.Error < best.Error {
			best = r
			found = true
		}
	}
	return best, found
}
