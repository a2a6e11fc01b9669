package slam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTrackingQuality(t *testing.T) {
	tests := []struct {
		r    Residuals
		want TrackingResult
	}{
		{Residuals{InlierRatio: 0.9, RMSEMeters: 0.005}, TrackingGood},
		{Residuals{InlierRatio: 0.6, RMSEMeters: 0.02}, TrackingGood},
		{Residuals{InlierRatio: 0.5, RMSEMeters: 0.005}, TrackingPoor},
		{Residuals{InlierRatio: 0.9, RMSEMeters: 0.05}, TrackingPoor},
		{Residuals{InlierRatio: 0.1, RMSEMeters: 0.005}, TrackingFailed},
		{Residuals{InlierRatio: 0.9, RMSEMeters: 0.2}, TrackingFailed},
		{Residuals{InlierRatio: math.NaN()}, TrackingFailed},
		{Residuals{InlierRatio: 1, RMSEMeters: math.Inf(1)}, TrackingFailed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyTrackingQuality(tt.r), "%+v", tt.r)
	}
}
