package slam

import "math"

// Tracking quality thresholds.
const (
	// GoodInlierRatio is the minimum inlier fraction for a good verdict.
	GoodInlierRatio = 0.6
	// GoodRMSEMeters is the maximum alignment residual for a good verdict.
	GoodRMSEMeters = 0.02
	// FailedInlierRatio is the inlier fraction below which tracking has failed.
	FailedInlierRatio = 0.2
	// FailedRMSEMeters is the residual above which tracking has failed.
	FailedRMSEMeters = 0.10
)

// Residuals summarise how well a view aligned with the scene prediction.
type Residuals struct {
	// InlierRatio is the fraction of valid depth samples that matched.
	InlierRatio float64
	// RMSEMeters is the root mean square point-to-model distance of the inliers.
	RMSEMeters float64
}

// ClassifyTrackingQuality maps alignment residuals to a verdict. Non-finite
// residuals are treated as a failure.
func ClassifyTrackingQuality(r Residuals) TrackingResult {
	if math.IsNaN(r.InlierRatio) || math.IsNaN(r.RMSEMeters) || math.IsInf(r.RMSEMeters, 0) {
		return TrackingFailed
	}
	switch {
	case r.InlierRatio < FailedInlierRatio || r.RMSEMeters > FailedRMSEMeters:
		return TrackingFailed
	case r.InlierRatio >= GoodInlierRatio && r.RMSEMeters <= GoodRMSEMeters:
		return TrackingGood
	default:
		return TrackingPoor
	}
}
