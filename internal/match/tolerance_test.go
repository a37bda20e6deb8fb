package match

import (
	"math"
	"testing"
)

func goodSignals() CaptureSignals {
	return CaptureSignals{
		Brightness:   130,
		Confidence:   0.95,
		MobileDevice: false,
		ImageWidth:   640,
	}
}

func TestAdjustTolerance_NoPenalties(t *testing.T) {
	got := AdjustTolerance(0.60, goodSignals())
	if got != 0.60 {
		t.Errorf("expected base tolerance 0.60 unchanged, got %f", got)
	}
}

func TestAdjustTolerance_SinglePenalties(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*CaptureSignals)
		penalty float64
	}{
		{"mobile device", func(s *CaptureSignals) { s.MobileDevice = true }, 0.02},
		{"low brightness", func(s *CaptureSignals) { s.Brightness = 40 }, 0.03},
		{"overexposure", func(s *CaptureSignals) { s.Brightness = 230 }, 0.01},
		{"low confidence", func(s *CaptureSignals) { s.Confidence = 0.5 }, 0.02},
		{"low resolution", func(s *CaptureSignals) { s.ImageWidth = 240 }, 0.02},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := goodSignals()
			tt.mutate(&s)
			got := AdjustTolerance(0.60, s)
			want := 0.60 - tt.penalty
			if math.Abs(got-want) > 1e-9 {
				t.Errorf("expected %f, got %f", want, got)
			}
		})
	}
}

func TestAdjustTolerance_PenaltiesStack(t *testing.T) {
	s := CaptureSignals{
		Brightness:   30, // low brightness -0.03
		Confidence:   0.5,
		MobileDevice: true,
		ImageWidth:   200,
	}
	// -0.03 -0.02 -0.02 -0.02 = -0.09
	got := AdjustTolerance(0.60, s)
	if math.Abs(got-0.51) > 1e-9 {
		t.Errorf("expected stacked penalties to yield 0.51, got %f", got)
	}
}

func TestAdjustTolerance_NeverAboveBase(t *testing.T) {
	for b := 0.0; b <= 255; b += 15 {
		for c := 0.0; c <= 1.0; c += 0.1 {
			for _, mobile := range []bool{false, true} {
				for _, w := range []int{0, 100, 320, 1920} {
					s := CaptureSignals{Brightness: b, Confidence: c, MobileDevice: mobile, ImageWidth: w}
					got := AdjustTolerance(0.60, s)
					if got > 0.60 {
						t.Fatalf("tolerance %f exceeds base for signals %+v", got, s)
					}
					if got < ToleranceFloor {
						t.Fatalf("tolerance %f below floor for signals %+v", got, s)
					}
				}
			}
		}
	}
}

func TestAdjustTolerance_FloorHolds(t *testing.T) {
	s := CaptureSignals{Brightness: 10, Confidence: 0.1, MobileDevice: true, ImageWidth: 100}
	// Base barely above the floor: all penalties apply but the floor wins.
	got := AdjustTolerance(0.52, s)
	if got != ToleranceFloor {
		t.Errorf("expected floor %f, got %f", ToleranceFloor, got)
	}
}

func TestQualityScore_Range(t *testing.T) {
	cases := []CaptureSignals{
		goodSignals(),
		{Brightness: 0, Confidence: 0, ImageWidth: 0},
		{Brightness: 255, Confidence: 1, ImageWidth: 4000},
		{Brightness: -10, Confidence: 2, ImageWidth: -5},
	}
	for _, s := range cases {
		score := QualityScore(s)
		if score < 0 || score > 100 {
			t.Errorf("quality score %f out of range for %+v", score, s)
		}
	}

	if best, worst := QualityScore(goodSignals()), QualityScore(CaptureSignals{}); best <= worst {
		t.Errorf("expected good capture (%f) to outscore empty capture (%f)", best, worst)
	}
}
