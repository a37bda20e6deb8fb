package attendance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/facegate/facegate/internal/config"
	"github.com/facegate/facegate/internal/geofence"
	"github.com/facegate/facegate/internal/match"
	"github.com/facegate/facegate/internal/settings"
	"github.com/facegate/facegate/internal/vision"
)

// EventRecorder serializes read-decide-append per identity: the decide
// callback sees the most recent event recorded today for the identity and
// returns the event to append, all within one transaction. Returning an
// error from decide aborts without recording.
type EventRecorder interface {
	RecordEvent(ctx context.Context, identityKey string, decide func(last *Event) (*Event, error)) (*Event, error)
}

// SiteSource lists the active geofence sites.
type SiteSource interface {
	ListActiveSites(ctx context.Context) ([]geofence.Site, error)
}

// tooSoonError aborts event recording when the minimum re-scan gap has not
// elapsed yet.
type tooSoonError struct {
	retryAfter int
}

func (e *tooSoonError) Error() string {
	return fmt.Sprintf("re-scan too soon, retry in %ds", e.retryAfter)
}

// ScanInput carries everything one kiosk capture contributes to a decision.
type ScanInput struct {
	Population Population
	Embedding  []float64
	Fix        *geofence.Fix         // nil when the device reported no GPS
	Liveness   *vision.LivenessScore // nil when liveness was not evaluated
	Signals    match.CaptureSignals
}

// Deps wires the engine's collaborators.
type Deps struct {
	Employees      *match.IdentityCache
	Visitors       *match.IdentityCache
	Events         EventRecorder
	Sites          SiteSource
	Settings       *settings.Provider
	Tuning         config.TuningConfig
	FallbackSiteID string
}

// Engine decides accept/reject/review for one scan event.
type Engine struct {
	deps Deps
	now  func() time.Time
}

// NewEngine creates a decision engine.
func NewEngine(deps Deps) *Engine {
	return &Engine{deps: deps, now: time.Now}
}

func (e *Engine) cacheFor(p Population) *match.IdentityCache {
	if p == PopulationVisitor {
		return e.deps.Visitors
	}
	return e.deps.Employees
}

// Decide runs the full pipeline for one scan. Expected denials come back as
// a Decision with a reason code; an error means the decision could not be
// made at all.
func (e *Engine) Decide(ctx context.Context, in ScanInput) (Decision, error) {
	if err := match.ValidateEmbedding(in.Embedding); err != nil {
		return Decision{}, fmt.Errorf("rejecting scan input: %w", err)
	}

	s, t := e.deps.Settings, e.deps.Tuning

	site, denied, err := e.resolveSite(ctx, in.Fix)
	if err != nil {
		return Decision{}, err
	}
	if denied != nil {
		return *denied, nil
	}

	livenessPass := s.Float64(ctx, "liveness.pass_threshold", t.Liveness.PassThreshold)
	if in.Liveness != nil {
		if !in.Liveness.OK || in.Liveness.Probability < livenessPass {
			return Decision{Reason: ReasonLivenessFailed}, nil
		}
	}

	base := s.Float64(ctx, "matching.base_tolerance", t.Matching.BaseTolerance)
	threshold := match.AdjustTolerance(base, in.Signals)

	m, ok, err := e.cacheFor(in.Population).Query(ctx, in.Embedding, threshold)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{Reason: ReasonNoMatch, Threshold: threshold}, nil
	}

	similarity := 1 - m.Distance/threshold
	similarity = math.Max(0, math.Min(1, similarity))

	reviewReasons := e.reviewReasons(ctx, in, m.Distance, threshold, livenessPass)

	minGap := time.Duration(s.Int(ctx, "attendance.min_gap_seconds", t.Attendance.MinGapSeconds)) * time.Second
	event, err := e.deps.Events.RecordEvent(ctx, m.IdentityKey, func(last *Event) (*Event, error) {
		now := e.now()
		if last != nil {
			elapsed := now.Sub(last.Timestamp)
			if elapsed >= 0 && elapsed < minGap {
				retry := int(math.Ceil((minGap - elapsed).Seconds()))
				return nil, &tooSoonError{retryAfter: retry}
			}
		}

		// Alternate relative to the last recorded event, starting with IN.
		// Self-correcting: a skipped OUT never wedges the sequence.
		typ := EventIn
		if last != nil && last.Type == EventIn {
			typ = EventOut
		}

		ev := &Event{
			ID:             uuid.NewString(),
			IdentityKey:    m.IdentityKey,
			Type:           typ,
			Timestamp:      now,
			Distance:       m.Distance,
			Similarity:     similarity,
			ReviewRequired: len(reviewReasons) > 0,
			ReviewReasons:  reviewReasons,
		}
		if site != nil {
			ev.SiteID = site.ID
		}
		return ev, nil
	})
	if err != nil {
		var tooSoon *tooSoonError
		if errors.As(err, &tooSoon) {
			return Decision{
				Reason:            ReasonTooSoon,
				IdentityKey:       m.IdentityKey,
				RetryAfterSeconds: tooSoon.retryAfter,
			}, nil
		}
		return Decision{}, fmt.Errorf("recording event: %w", err)
	}

	d := Decision{
		Accepted:       true,
		IdentityKey:    m.IdentityKey,
		Distance:       m.Distance,
		Threshold:      threshold,
		Similarity:     similarity,
		QualityScore:   match.QualityScore(in.Signals),
		EventType:      event.Type,
		EventID:        event.ID,
		Timestamp:      event.Timestamp,
		ReviewRequired: event.ReviewRequired,
		ReviewReasons:  event.ReviewReasons,
	}
	if site != nil {
		d.SiteID = site.ID
		d.SiteName = site.Name
	}
	return d, nil
}

// resolveSite applies the geofence policy. Returns a denial Decision for
// expected geofence rejections, or the resolved site.
func (e *Engine) resolveSite(ctx context.Context, fix *geofence.Fix) (*geofence.Site, *Decision, error) {
	s, t := e.deps.Settings, e.deps.Tuning

	sites, err := e.deps.Sites.ListActiveSites(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing sites: %w", err)
	}

	if !s.Bool(ctx, "geofence.enabled", t.Geofence.Enabled) {
		r := geofence.ResolveFixed(sites, e.deps.FallbackSiteID)
		if !r.Allowed {
			return nil, &Decision{Reason: r.Reason}, nil
		}
		return r.Site, nil, nil
	}

	if fix == nil {
		return nil, &Decision{
			Reason:           geofence.ReasonGPSRequired,
			RequiredAccuracy: s.Float64(ctx, "geofence.required_accuracy_m", t.Geofence.RequiredAccuracyM),
		}, nil
	}

	r := geofence.Resolve(*fix, sites, geofence.Options{
		RequiredAccuracy: s.Float64(ctx, "geofence.required_accuracy_m", t.Geofence.RequiredAccuracyM),
		DefaultRadius:    s.Float64(ctx, "geofence.default_radius_m", t.Geofence.DefaultRadiusM),
	})
	if !r.Allowed {
		return nil, &Decision{Reason: r.Reason, RequiredAccuracy: r.RequiredAccuracy}, nil
	}
	return r.Site, nil, nil
}

// reviewReasons collects the soft audit flags for an accepted match.
// Flags never block: the decision stays accepted, marked for human review.
func (e *Engine) reviewReasons(ctx context.Context, in ScanInput, distance, threshold, livenessPass float64) []string {
	s, t := e.deps.Settings, e.deps.Tuning
	var reasons []string

	nearRatio := s.Float64(ctx, "matching.near_match_ratio", t.Matching.NearMatchRatio)
	if distance >= threshold*nearRatio {
		reasons = append(reasons, ReviewNearMatch)
	}

	if in.Liveness != nil {
		margin := s.Float64(ctx, "liveness.review_margin", t.Liveness.ReviewMargin)
		if in.Liveness.Probability < livenessPass+margin {
			reasons = append(reasons, ReviewBorderlineLiveness)
		}
	}

	if s.Bool(ctx, "geofence.enabled", t.Geofence.Enabled) && in.Fix != nil && in.Fix.Accuracy != nil {
		required := s.Float64(ctx, "geofence.required_accuracy_m", t.Geofence.RequiredAccuracyM)
		margin := s.Float64(ctx, "geofence.accuracy_review_margin_m", t.Geofence.AccuracyReviewMarginM)
		if *in.Fix.Accuracy > required-margin {
			reasons = append(reasons, ReviewBorderlineAccuracy)
		}
	}

	return reasons
}
