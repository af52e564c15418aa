package ride

import (
	"errors"
	"fmt"
	"math"
	"time"
)

type Coordinate struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Fix is one position sample reported by the rider's device.
type Fix struct {
	Coordinate
	HorizontalAccuracyM float64   `json:"horizontal_accuracy_m"`
	Timestamp           time.Time `json:"timestamp"`
}

func (f Fix) Validate() error {
	switch {
	case math.IsNaN(f.Lat) || math.IsInf(f.Lat, 0) || f.Lat < -90 || f.Lat > 90:
		return fmt.Errorf("lat must be between -90 and 90, got %v", f.Lat)
	case math.IsNaN(f.Lng) || math.IsInf(f.Lng, 0) || f.Lng < -180 || f.Lng > 180:
		return fmt.Errorf("lng must be between -180 and 180, got %v", f.Lng)
	case f.HorizontalAccuracyM < 0:
		return fmt.Errorf("horizontal_accuracy_m must not be negative, got %v", f.HorizontalAccuracyM)
	}
	return nil
}

type Waypoint struct {
	Coordinate
	Label      string    `json:"label"`
	Note       string    `json:"note"`
	DistanceM  float64   `json:"distance_m"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Session is the state of one start-to-stop ride.
type Session struct {
	ID        string     `json:"id"`
	Fixes     []Fix      `json:"fixes"`
	Waypoints []Waypoint `json:"waypoints"`
	DistanceM float64    `json:"distance_m"`
	Active    bool       `json:"active"`
	StartedAt time.Time  `json:"started_at"`
	StoppedAt time.Time  `json:"stopped_at,omitempty"`
}

func (s Session) lastFix() (Fix, bool) {
	if len(s.Fixes) == 0 {
		return Fix{}, false
	}
	return s.Fixes[len(s.Fixes)-1], true
}

func (s Session) clone() Session {
	out := s
	out.Fixes = append([]Fix(nil), s.Fixes...)
	out.Waypoints = append([]Waypoint(nil), s.Waypoints...)
	return out
}

type Summary struct {
	SessionID      string  `json:"session_id"`
	TotalDistanceM float64 `json:"total_distance_m"`
	WaypointCount  int     `json:"waypoint_count"`
	DurationSec    int64   `json:"duration_sec"`
	Message        string  `json:"message"`
}

type Bounds struct {
	SouthWest Coordinate `json:"south_west"`
	NorthEast Coordinate `json:"north_east"`
}

// Region is the visible map area requested after each fix.
type Region struct {
	Center Coordinate `json:"center"`
	SpanM  float64    `json:"span_m"`
	Bounds *Bounds    `json:"bounds,omitempty"`
}

type Notice struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

type AuthorizationStatus string

const (
	AuthNotDetermined       AuthorizationStatus = "not_determined"
	AuthRestricted          AuthorizationStatus = "restricted"
	AuthDenied              AuthorizationStatus = "denied"
	AuthAuthorizedAlways    AuthorizationStatus = "authorized_always"
	AuthAuthorizedWhenInUse AuthorizationStatus = "authorized_when_in_use"
)

// Outcome reports what Ingest did with a fix.
type Outcome int

const (
	OutcomeDropped Outcome = iota
	OutcomeLowAccuracy
	OutcomeBootstrap
	OutcomeAccepted
	OutcomeTooClose
)

var outcomeNames = [...]string{
	OutcomeDropped:     "dropped",
	OutcomeLowAccuracy: "low_accuracy",
	OutcomeBootstrap:   "bootstrap",
	OutcomeAccepted:    "accepted",
	OutcomeTooClose:    "too_close",
}

func (o Outcome) String() string {
	if o < 0 || int(o) >= len(outcomeNames) {
		return "unknown"
	}
	return outcomeNames[o]
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Tracked reports whether the fix was appended to the session.
func (o Outcome) Tracked() bool {
	return o == OutcomeBootstrap || o == OutcomeAccepted
}

type EventType string

const (
	EventRideStarted         EventType = "ride_started"
	EventRideStopped         EventType = "ride_stopped"
	EventWaypointAdded       EventType = "waypoint_added"
	EventWaypointsCleared    EventType = "waypoints_cleared"
	EventRegionChanged       EventType = "region_changed"
	EventMapModeChanged      EventType = "map_mode_changed"
	EventUserLocationVisible EventType = "user_location_visible"
	EventRecenterVisible     EventType = "recenter_visible"
	EventPermissionNotice    EventType = "permission_notice"
	EventLocationUpdates     EventType = "location_updates"
	EventLocationError       EventType = "location_error"
)

// Event is an outbound notification for the map display and the session UI.
// Only the payload field matching Type is set.
type Event struct {
	Type            EventType `json:"type"`
	SessionID       string    `json:"session_id,omitempty"`
	At              time.Time `json:"at"`
	Waypoint        *Waypoint `json:"waypoint,omitempty"`
	Region          *Region   `json:"region,omitempty"`
	MapMode         *MapMode  `json:"map_mode,omitempty"`
	Visible         *bool     `json:"visible,omitempty"`
	Summary         *Summary  `json:"summary,omitempty"`
	Notice          *Notice   `json:"notice,omitempty"`
	Active          *bool     `json:"active,omitempty"`
	DistanceFilterM float64   `json:"distance_filter_m,omitempty"`
	Error           string    `json:"error,omitempty"`
}

var (
	ErrInvalidMapMode       = errors.New("map mode selector must be 0, 1 or 2")
	ErrUnknownAuthorization = errors.New("unknown authorization status")
	ErrNotRiding            = errors.New("no ride in progress")
	ErrNoRide               = errors.New("no ride recorded")
)
