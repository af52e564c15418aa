package ride

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"backend-bikeride/internal/logging"
)

// Broadcaster delivers a payload to every stream subscribed to key.
// *stream.Hub satisfies it.
type Broadcaster interface {
	Broadcast(key string, payload []byte)
}

// EventPublisher forwards ride lifecycle messages to a message broker.
type EventPublisher interface {
	PublishJSON(ctx context.Context, routingKey string, msg any) error
}

type Metrics interface {
	ObserveFix(outcome string)
	ObserveWaypoint()
	ObserveRideStarted()
	ObserveRideStopped(distanceM float64)
	SetActiveRides(n int)
}

// LifecycleMessage is published to the broker when a ride starts or stops.
type LifecycleMessage struct {
	Type      EventType `json:"type"`
	RiderID   string    `json:"rider_id"`
	SessionID string    `json:"session_id"`
	Summary   *Summary  `json:"summary,omitempty"`
	At        time.Time `json:"at"`
}

const (
	RoutingKeyRideStarted = "ride.started"
	RoutingKeyRideStopped = "ride.stopped"

	lifecycleBuffer = 256
)

// Service keeps one Tracker per rider.
type Service struct {
	mu       sync.RWMutex
	trackers map[string]*Tracker

	stream  Broadcaster
	metrics Metrics
	events  *lifecycleQueue
	log     logging.Logger
}

func NewService(stream Broadcaster, metrics Metrics, events EventPublisher, log logging.Logger) *Service {
	s := &Service{
		trackers: map[string]*Tracker{},
		stream:   stream,
		metrics:  metrics,
		log:      logging.OrNoop(log),
	}
	if events != nil {
		s.events = newLifecycleQueue(events, s.log)
	}
	return s
}

// Close flushes pending lifecycle messages to the broker. Messages produced
// after Close are dropped.
func (s *Service) Close() {
	if s.events != nil {
		s.events.close()
	}
}

// Tracker returns the rider's tracker, creating and wiring it on first use.
func (s *Service) Tracker(riderID string) *Tracker {
	s.mu.RLock()
	t, ok := s.trackers[riderID]
	s.mu.RUnlock()
	if ok {
		return t
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.trackers[riderID]; ok {
		return t
	}

	log := s.log.With(logging.String("rider_id", riderID))
	opts := []Option{WithLogger(log)}
	if s.stream != nil {
		opts = append(opts,
			WithLocationSource(&deviceSource{riderID: riderID, stream: s.stream, log: log}),
			WithListener(&streamListener{riderID: riderID, stream: s.stream, log: log}))
	}
	if s.metrics != nil {
		opts = append(opts, WithListener(ListenerFunc(s.observeEvent)))
	}
	if s.events != nil {
		opts = append(opts, WithListener(&lifecyclePublisher{riderID: riderID, queue: s.events}))
	}

	t = NewTracker(opts...)
	s.trackers[riderID] = t
	return t
}

func (s *Service) lookup(riderID string) (*Tracker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trackers[riderID]
	return t, ok
}

func (s *Service) Start(riderID string) Session {
	session := s.Tracker(riderID).Start()
	s.refreshActive()
	return session
}

func (s *Service) Stop(riderID string) (Summary, error) {
	t, ok := s.lookup(riderID)
	if !ok {
		return Summary{}, ErrNotRiding
	}
	summary, stopped := t.Stop()
	if !stopped {
		return Summary{}, ErrNotRiding
	}
	s.refreshActive()
	return summary, nil
}

// Ingest feeds a batch of fixes to the rider's tracker. Riders who never
// started a ride get every fix back as dropped.
func (s *Service) Ingest(riderID string, fixes []Fix) []Outcome {
	var outcomes []Outcome
	if t, ok := s.lookup(riderID); ok {
		outcomes = t.IngestBatch(fixes)
	} else {
		outcomes = make([]Outcome, len(fixes))
	}

	if s.metrics != nil {
		for _, o := range outcomes {
			s.metrics.ObserveFix(o.String())
		}
	}
	return outcomes
}

// Authorize forwards a permission change. Riders without a tracker have no
// updates to restart, so they only get the notice for a revoked permission.
func (s *Service) Authorize(riderID string, status AuthorizationStatus) error {
	if t, ok := s.lookup(riderID); ok {
		return t.Authorize(status)
	}

	switch status {
	case AuthNotDetermined, AuthAuthorizedAlways, AuthAuthorizedWhenInUse:
	case AuthRestricted, AuthDenied:
		s.notify(riderID, permissionNotice())
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAuthorization, status)
	}
	return nil
}

func (s *Service) ReportError(riderID, description string) {
	if t, ok := s.lookup(riderID); ok {
		t.ReportError(description)
		return
	}
	s.log.Warn(context.Background(), "location error",
		logging.String("rider_id", riderID), logging.String("description", description))
	s.notify(riderID, Event{Type: EventLocationError, Error: description})
}

// notify streams an event to a rider who has no tracker.
func (s *Service) notify(riderID string, e Event) {
	if s.stream == nil {
		return
	}
	e.At = time.Now()
	(&streamListener{riderID: riderID, stream: s.stream, log: s.log}).HandleEvent(e)
}

func (s *Service) SetMapMode(riderID string, selector int) (MapMode, error) {
	return s.Tracker(riderID).SetMapMode(selector)
}

func (s *Service) ShowUser(riderID string) {
	s.Tracker(riderID).ShowUser()
}

func (s *Service) Session(riderID string) (Session, error) {
	t, ok := s.lookup(riderID)
	if !ok {
		return Session{}, ErrNoRide
	}
	session := t.Session()
	if session.ID == "" {
		return Session{}, ErrNoRide
	}
	return session, nil
}

func (s *Service) ActiveRides() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.trackers {
		if t.Tracking() {
			n++
		}
	}
	return n
}

func (s *Service) refreshActive() {
	if s.metrics != nil {
		s.metrics.SetActiveRides(s.ActiveRides())
	}
}

func (s *Service) observeEvent(e Event) {
	switch e.Type {
	case EventRideStarted:
		s.metrics.ObserveRideStarted()
	case EventRideStopped:
		s.metrics.ObserveRideStopped(e.Summary.TotalDistanceM)
	case EventWaypointAdded:
		s.metrics.ObserveWaypoint()
	}
}

// streamListener pushes every tracker event to the rider's websocket stream.
type streamListener struct {
	riderID string
	stream  Broadcaster
	log     logging.Logger
}

func (l *streamListener) HandleEvent(e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		l.log.Error(context.Background(), "encode ride event", logging.Err(err))
		return
	}
	l.stream.Broadcast(l.riderID, payload)
}

// deviceSource asks the rider's device to start or stop sending fixes.
type deviceSource struct {
	riderID string
	stream  Broadcaster
	log     logging.Logger
}

func (d *deviceSource) StartUpdates(distanceFilterM float64) {
	d.send(Event{Type: EventLocationUpdates, Active: boolPtr(true), DistanceFilterM: distanceFilterM})
}

func (d *deviceSource) StopUpdates() {
	d.send(Event{Type: EventLocationUpdates, Active: boolPtr(false)})
}

func (d *deviceSource) send(e Event) {
	e.At = time.Now()
	payload, err := json.Marshal(e)
	if err != nil {
		d.log.Error(context.Background(), "encode location control", logging.Err(err))
		return
	}
	d.stream.Broadcast(d.riderID, payload)
}

type lifecycleMessage struct {
	key string
	msg LifecycleMessage
}

// lifecycleQueue hands lifecycle messages to a single publishing goroutine
// so a slow broker never holds a tracker lock.
type lifecycleQueue struct {
	events EventPublisher
	log    logging.Logger

	mu     sync.Mutex
	closed bool
	ch     chan lifecycleMessage
	done   chan struct{}
}

func newLifecycleQueue(events EventPublisher, log logging.Logger) *lifecycleQueue {
	q := &lifecycleQueue{
		events: events,
		log:    log,
		ch:     make(chan lifecycleMessage, lifecycleBuffer),
		done:   make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *lifecycleQueue) enqueue(m lifecycleMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		q.log.Warn(context.Background(), "lifecycle queue closed, dropping message", logging.String("routing_key", m.key))
		return
	}
	select {
	case q.ch <- m:
	default:
		q.log.Warn(context.Background(), "lifecycle queue full, dropping message", logging.String("routing_key", m.key))
	}
}

func (q *lifecycleQueue) run() {
	defer close(q.done)
	for m := range q.ch {
		if err := q.events.PublishJSON(context.Background(), m.key, m.msg); err != nil {
			q.log.Warn(context.Background(), "publish ride lifecycle",
				logging.String("rider_id", m.msg.RiderID), logging.String("routing_key", m.key), logging.Err(err))
		}
	}
}

func (q *lifecycleQueue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	q.mu.Unlock()
	<-q.done
}

type lifecyclePublisher struct {
	riderID string
	queue   *lifecycleQueue
}

func (p *lifecyclePublisher) HandleEvent(e Event) {
	var key string
	switch e.Type {
	case EventRideStarted:
		key = RoutingKeyRideStarted
	case EventRideStopped:
		key = RoutingKeyRideStopped
	default:
		return
	}

	p.queue.enqueue(lifecycleMessage{key: key, msg: LifecycleMessage{
		Type:      e.Type,
		RiderID:   p.riderID,
		SessionID: e.SessionID,
		Summary:   e.Summary,
		At:        e.At,
	}})
}
