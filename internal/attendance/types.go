// Package attendance implements the scan decision pipeline: geofence check,
// liveness gate, identity matching with an adaptive threshold, and the
// per-identity IN/OUT state machine with review flagging.
package attendance

import "time"

// EventType is the recorded attendance direction.
type EventType string

const (
	EventIn  EventType = "in"
	EventOut EventType = "out"
)

// Population selects which identity cache a scan matches against.
// Employee and visitor enrollments are independent; invalidation of one
// never touches the other.
type Population string

const (
	PopulationEmployee Population = "employee"
	PopulationVisitor  Population = "visitor"
)

// Denial reason codes, alongside the geofence package's GPS_* codes.
const (
	ReasonNoMatch        = "NO_MATCH"
	ReasonTooSoon        = "TOO_SOON"
	ReasonLivenessFailed = "LIVENESS_FAILED"
)

// Review reason strings attached to accepted-but-borderline decisions.
const (
	ReviewNearMatch          = "near match: distance close to threshold"
	ReviewBorderlineLiveness = "borderline liveness probability"
	ReviewBorderlineAccuracy = "borderline GPS accuracy"
)

// Event is one recorded attendance event.
type Event struct {
	ID             string    `json:"id"`
	IdentityKey    string    `json:"identity_key"`
	Type           EventType `json:"type"`
	Timestamp      time.Time `json:"timestamp"`
	SiteID         string    `json:"site_id,omitempty"`
	Distance       float64   `json:"distance"`
	Similarity     float64   `json:"similarity"`
	ReviewRequired bool      `json:"review_required"`
	ReviewReasons  []string  `json:"review_reasons,omitempty"`
}

// Decision is the full outcome of one scan. Expected denials (no match, too
// soon, geofence) are decisions, not errors; only unexpected conditions
// (store unreachable, contract violations) surface as errors.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`

	IdentityKey  string  `json:"identity_key,omitempty"`
	Distance     float64 `json:"distance,omitempty"`
	Threshold    float64 `json:"threshold,omitempty"`
	Similarity   float64 `json:"similarity,omitempty"`
	QualityScore float64 `json:"quality_score,omitempty"`

	EventType EventType `json:"event_type,omitempty"`
	EventID   string    `json:"event_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`

	SiteID       string  `json:"site_id,omitempty"`
	SiteName     string  `json:"site_name,omitempty"`
	SiteDistance float64 `json:"site_distance,omitempty"`

	ReviewRequired bool     `json:"review_required"`
	ReviewReasons  []string `json:"review_reasons,omitempty"`

	// Hints for denied callers.
	RetryAfterSeconds int     `json:"retry_after_seconds,omitempty"`
	RequiredAccuracy  float64 `json:"required_accuracy,omitempty"`
}
