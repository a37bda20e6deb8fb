// Package geofence decides whether a kiosk GPS fix lies inside a permitted
// site and which one. Pure computation over a site list; the store owns the
// sites themselves.
package geofence

import (
	"math"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// earthRadiusMeters is the mean Earth radius used by the haversine formula.
const earthRadiusMeters = 6371000

// Reason codes for geofence denials.
const (
	ReasonGPSRequired    = "GPS_REQUIRED"
	ReasonGPSAccuracy    = "GPS_ACCURACY"
	ReasonNoOffices      = "NO_OFFICES"
	ReasonNoOfficeNearby = "NO_OFFICE_NEARBY"
)

// Site is a permitted location with a circular geofence boundary.
type Site struct {
	ID           string
	Name         string
	Latitude     float64
	Longitude    float64
	RadiusMeters float64 // non-positive means "use the deployment default"
	SSID         string  // optional wifi hint, informational only
}

// Fix is a reported GPS position. Accuracy is nil when the device did not
// report one.
type Fix struct {
	Latitude  float64
	Longitude float64
	Accuracy  *float64 // meters, larger is worse
}

// Options configures resolution for one deployment.
type Options struct {
	RequiredAccuracy float64 // maximum trustworthy accuracy in meters
	DefaultRadius    float64 // effective radius for sites without their own
}

// Result is the outcome of site resolution.
type Result struct {
	Allowed  bool
	Site     *Site
	Distance float64 // meters to the chosen site, valid when Allowed

	// Denial details.
	Reason           string
	RequiredAccuracy float64 // populated for GPS_ACCURACY so callers can prompt
}

// Haversine computes the great-circle distance in meters between two
// coordinates.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180
	phi2 := lat2 * math.Pi / 180
	dPhi := (lat2 - lat1) * math.Pi / 180
	dLambda := (lon2 - lon1) * math.Pi / 180

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusMeters * c
}

// Resolve picks the nearest permitted site for a GPS fix.
// An imprecise fix is rejected before any site is considered; among sites
// whose distance is within their effective radius, the nearest wins.
func Resolve(fix Fix, sites []Site, opts Options) Result {
	if fix.Accuracy != nil && *fix.Accuracy > opts.RequiredAccuracy {
		return Result{Reason: ReasonGPSAccuracy, RequiredAccuracy: opts.RequiredAccuracy}
	}

	if len(sites) == 0 {
		return Result{Reason: ReasonNoOffices}
	}

	var best *Site
	bestDistance := math.Inf(1)
	for i := range sites {
		site := &sites[i]
		distance := Haversine(fix.Latitude, fix.Longitude, site.Latitude, site.Longitude)

		radius := site.RadiusMeters
		if radius <= 0 {
			radius = opts.DefaultRadius
		}
		if distance > radius {
			continue
		}
		if distance < bestDistance {
			best = site
			bestDistance = distance
		}
	}

	if best == nil {
		return Result{Reason: ReasonNoOfficeNearby}
	}
	return Result{Allowed: true, Site: best, Distance: bestDistance}
}

// ResolveFixed resolves without GPS, for fixed desktop kiosks.
// It picks the configured fallback site when set, otherwise the first active
// site by collated name order.
func ResolveFixed(sites []Site, fallbackSiteID string) Result {
	if len(sites) == 0 {
		return Result{Reason: ReasonNoOffices}
	}

	if fallbackSiteID != "" {
		for i := range sites {
			if sites[i].ID == fallbackSiteID {
				return Result{Allowed: true, Site: &sites[i]}
			}
		}
	}

	ordered := make([]Site, len(sites))
	copy(ordered, sites)
	c := collate.New(language.Und, collate.IgnoreCase)
	sort.SliceStable(ordered, func(i, j int) bool {
		return c.CompareString(ordered[i].Name, ordered[j].Name) < 0
	})
	return Result{Allowed: true, Site: &ordered[0]}
}
