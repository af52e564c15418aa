package ride

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend-bikeride/internal/logging"
	"backend-bikeride/internal/shared/geo"

	"github.com/google/uuid"
)

const (
	// AccuracyThresholdM is the horizontal accuracy a fix must beat (strictly)
	// to be considered for a waypoint.
	AccuracyThresholdM = 20.0
	// WaypointDistanceM is the distance from the last tracked fix a new fix
	// must exceed (strictly) to become a waypoint.
	WaypointDistanceM = 50.0
	// DistanceFilterM is passed to the location source as a movement hint;
	// the tracker does not enforce it.
	DistanceFilterM = 10.0
	RegionSpanM     = 200.0
)

// LocationSource produces fixes for the tracker. The tracker only tells it
// when to start and stop; fixes arrive through Ingest.
type LocationSource interface {
	StartUpdates(distanceFilterM float64)
	StopUpdates()
}

type Listener interface {
	HandleEvent(Event)
}

type ListenerFunc func(Event)

func (f ListenerFunc) HandleEvent(e Event) { f(e) }

// DistanceFunc returns the surface distance in meters between two coordinates.
type DistanceFunc func(a, b Coordinate) float64

func GeodesicDistance(a, b Coordinate) float64 {
	return geo.DistanceM(a.Lat, a.Lng, b.Lat, b.Lng)
}

type Option func(*Tracker)

func WithLocationSource(src LocationSource) Option {
	return func(t *Tracker) { t.source = src }
}

func WithListener(l Listener) Option {
	return func(t *Tracker) { t.listeners = append(t.listeners, l) }
}

func WithDistanceFunc(fn DistanceFunc) Option {
	return func(t *Tracker) { t.distance = fn }
}

func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

func WithLogger(log logging.Logger) Option {
	return func(t *Tracker) { t.log = logging.OrNoop(log) }
}

// Tracker owns a single ride session and applies start, stop and fix events
// to it one at a time. Listeners are called with the lock held, in the order
// the operations were applied, and must not call back into the tracker.
type Tracker struct {
	mu        sync.Mutex
	source    LocationSource
	listeners []Listener
	distance  DistanceFunc
	now       func() time.Time
	log       logging.Logger

	session  Session
	tracking bool
	mode     MapMode
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{
		distance: GeodesicDistance,
		now:      time.Now,
		log:      logging.Noop(),
		mode:     mapModes[0],
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Subscribe registers an additional listener.
func (t *Tracker) Subscribe(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// Start begins a new ride, discarding whatever the previous session held.
// Calling it while a ride is in progress resets that ride.
func (t *Tracker) Start() Session {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.tracking = true
	t.session = Session{
		ID:        uuid.NewString(),
		Active:    true,
		StartedAt: t.now(),
	}

	if t.source != nil {
		t.source.StartUpdates(DistanceFilterM)
	}
	t.emit(Event{Type: EventWaypointsCleared})
	t.emit(Event{Type: EventRecenterVisible, Visible: boolPtr(false)})
	t.emit(Event{Type: EventUserLocationVisible, Visible: boolPtr(true)})
	t.emit(Event{Type: EventRideStarted})

	t.log.Info(context.Background(), "ride started", logging.String("session_id", t.session.ID))
	return t.session.clone()
}

// Stop finishes the current ride. The second return value is false when no
// ride was in progress, in which case nothing happens.
func (t *Tracker) Stop() (Summary, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.tracking {
		return Summary{}, false
	}
	t.tracking = false
	t.session.Active = false
	t.session.StoppedAt = t.now()

	summary := Summary{
		SessionID:      t.session.ID,
		TotalDistanceM: t.session.DistanceM,
		WaypointCount:  len(t.session.Waypoints),
		DurationSec:    int64(t.session.StoppedAt.Sub(t.session.StartedAt).Seconds()),
		Message:        fmt.Sprintf("You Rode %d meters.", int(t.session.DistanceM)),
	}

	if t.source != nil {
		t.source.StopUpdates()
	}
	t.emit(Event{Type: EventWaypointsCleared})
	t.emit(Event{Type: EventUserLocationVisible, Visible: boolPtr(false)})
	t.emit(Event{Type: EventRecenterVisible, Visible: boolPtr(true)})
	t.emit(Event{Type: EventRideStopped, Summary: &summary})

	t.log.Info(context.Background(), "ride stopped",
		logging.String("session_id", summary.SessionID),
		logging.Float("distance_m", summary.TotalDistanceM),
		logging.Int("waypoints", summary.WaypointCount))
	return summary, true
}

func (t *Tracker) Ingest(fix Fix) Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ingest(fix)
}

// IngestBatch applies fixes in order as one atomic update.
func (t *Tracker) IngestBatch(fixes []Fix) []Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	outcomes := make([]Outcome, 0, len(fixes))
	for _, fix := range fixes {
		outcomes = append(outcomes, t.ingest(fix))
	}
	return outcomes
}

func (t *Tracker) ingest(fix Fix) Outcome {
	if !t.tracking {
		return OutcomeDropped
	}

	outcome := OutcomeLowAccuracy
	if fix.HorizontalAccuracyM < AccuracyThresholdM {
		outcome = t.track(fix)
	}
	t.emitRegion(fix)
	return outcome
}

// track must check for an empty session before it ever reads the last fix.
func (t *Tracker) track(fix Fix) Outcome {
	last, ok := t.session.lastFix()
	if !ok {
		t.record(fix)
		return OutcomeBootstrap
	}

	d := t.distance(last.Coordinate, fix.Coordinate)
	if d <= WaypointDistanceM {
		return OutcomeTooClose
	}
	t.session.DistanceM += d
	t.record(fix)
	return OutcomeAccepted
}

func (t *Tracker) record(fix Fix) {
	t.session.Fixes = append(t.session.Fixes, fix)

	wp := Waypoint{
		Coordinate: fix.Coordinate,
		Label:      fmt.Sprintf("Latitude: %.3f | Longitude: %.3f", fix.Lat, fix.Lng),
		Note:       fmt.Sprintf("You rode %d meters so far.", int(t.session.DistanceM)),
		DistanceM:  t.session.DistanceM,
		RecordedAt: fix.Timestamp,
	}
	t.session.Waypoints = append(t.session.Waypoints, wp)
	t.emit(Event{Type: EventWaypointAdded, Waypoint: &wp})

	t.log.Debug(context.Background(), "waypoint recorded",
		logging.Float("distance_m", t.session.DistanceM),
		logging.Int("points", len(t.session.Fixes)))
}

func (t *Tracker) emitRegion(fix Fix) {
	region := Region{Center: fix.Coordinate, SpanM: RegionSpanM}
	if last, ok := t.session.lastFix(); ok {
		b := geo.Bound(last.Lat, last.Lng, fix.Lat, fix.Lng)
		region.Bounds = &Bounds{
			SouthWest: Coordinate{Lat: b.Min.Lat(), Lng: b.Min.Lon()},
			NorthEast: Coordinate{Lat: b.Max.Lat(), Lng: b.Max.Lon()},
		}
	}
	t.emit(Event{Type: EventRegionChanged, Region: &region})
}

// Authorize applies a change in the rider's location permission.
func (t *Tracker) Authorize(status AuthorizationStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch status {
	case AuthNotDetermined:
		t.log.Info(context.Background(), "location authorization not determined")
	case AuthRestricted, AuthDenied:
		t.emit(permissionNotice())
	case AuthAuthorizedAlways, AuthAuthorizedWhenInUse:
		if !t.tracking {
			return nil
		}
		if t.source != nil {
			t.source.StartUpdates(DistanceFilterM)
		}
		t.emit(Event{Type: EventUserLocationVisible, Visible: boolPtr(true)})
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuthorization, status)
	}
	return nil
}

// ReportError records a failure to acquire a fix. Tracking stays armed.
func (t *Tracker) ReportError(description string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log.Warn(context.Background(), "location error",
		logging.String("description", description),
		logging.Any("tracking", t.tracking))
	t.emit(Event{Type: EventLocationError, Error: description})
}

func (t *Tracker) SetMapMode(selector int) (MapMode, error) {
	mode, err := MapModeFor(selector)
	if err != nil {
		return MapMode{}, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = mode
	t.emit(Event{Type: EventMapModeChanged, MapMode: &mode})
	return mode, nil
}

// ShowUser brings the rider's own position back into view.
func (t *Tracker) ShowUser() {
	t.mu.Lock()
	defer t.mu.Unlock()

	mode := t.mode
	t.emit(Event{Type: EventUserLocationVisible, Visible: boolPtr(true)})
	t.emit(Event{Type: EventMapModeChanged, MapMode: &mode})
	t.emit(Event{Type: EventRecenterVisible, Visible: boolPtr(false)})
}

func (t *Tracker) Session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.session.clone()
}

func (t *Tracker) Tracking() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tracking
}

func (t *Tracker) MapMode() MapMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mode
}

func (t *Tracker) emit(e Event) {
	e.SessionID = t.session.ID
	e.At = t.now()
	for _, l := range t.listeners {
		l.HandleEvent(e)
	}
}

func permissionNotice() Event {
	return Event{Type: EventPermissionNotice, Notice: &Notice{
		Title:   "Location Services Disabled",
		Message: "Please enable location services for this app in Settings.",
	}}
}

func boolPtr(v bool) *bool { return &v }
