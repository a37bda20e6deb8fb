package match

import "math"

// ToleranceFloor is the absolute minimum match threshold. The tuner never
// returns a value below it regardless of how many penalties stack up.
const ToleranceFloor = 0.50

// Capture-quality penalties. Each applicable penalty tightens the threshold;
// penalties are cumulative, never exclusive.
const (
	penaltyMobileDevice  = 0.02
	penaltyLowBrightness = 0.03
	penaltyOverexposure  = 0.01
	penaltyLowConfidence = 0.02
	penaltyLowResolution = 0.02

	lowBrightnessBelow  = 60.0
	overexposureAbove   = 200.0
	lowConfidenceBelow  = 0.70
	lowResolutionBelowW = 320
)

// CaptureSignals describes the quality of one kiosk capture.
type CaptureSignals struct {
	Brightness   float64 // mean image brightness, 0-255
	Confidence   float64 // face detection confidence, 0-1
	MobileDevice bool    // capture came from a handheld device
	ImageWidth   int     // capture width in pixels
}

// AdjustTolerance computes the effective match threshold for one capture.
// The result is never more permissive than base and never below the floor:
// quality signals can only shrink the acceptance radius.
func AdjustTolerance(base float64, s CaptureSignals) float64 {
	adjustment := 0.0

	if s.MobileDevice {
		adjustment -= penaltyMobileDevice
	}
	if s.Brightness < lowBrightnessBelow {
		adjustment -= penaltyLowBrightness
	}
	if s.Brightness > overexposureAbove {
		adjustment -= penaltyOverexposure
	}
	if s.Confidence < lowConfidenceBelow {
		adjustment -= penaltyLowConfidence
	}
	if s.ImageWidth < lowResolutionBelowW {
		adjustment -= penaltyLowResolution
	}

	adjusted := math.Min(base+adjustment, base)
	return math.Max(adjusted, ToleranceFloor)
}

// QualityScore computes a 0-100 capture quality score for telemetry.
// Weighted blend: 50% detection confidence, 30% brightness, 20% resolution.
// Diagnostic only; it never feeds back into the threshold.
func QualityScore(s CaptureSignals) float64 {
	confidence := clamp01(s.Confidence)

	// Brightness scores highest around the middle of the 0-255 range.
	brightness := clamp01(1 - math.Abs(s.Brightness-130)/130)

	// Resolution saturates at 640px width.
	resolution := clamp01(float64(s.ImageWidth) / 640)

	return 100 * (0.50*confidence + 0.30*brightness + 0.20*resolution)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
