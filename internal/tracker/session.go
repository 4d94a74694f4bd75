package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/arrival-alarm/internal/alarm"
	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/location"
	"github.com/stuartshay/arrival-alarm/internal/resolver"
	"github.com/stuartshay/arrival-alarm/internal/wakelock"
)

// Signal is the alarm output driven by the session; *alarm.Generator implements it
type Signal interface {
	PrimeAudio() error
	Start()
	Stop()
	Channels() alarm.Channels
}

// channelNotifier is implemented by signals that report channel changes
// while ringing; *alarm.Generator implements it
type channelNotifier interface {
	OnChannels(fn func(alarm.Channels))
}

// Options configures a session
type Options struct {
	Signal   Signal
	WakeLock wakelock.Locker
	Resolver resolver.Resolver
	// Radius is the initial radius; zero means DefaultRadius
	Radius int
}

// Session owns the state of a single trip. It is created by the app shell
// and must be released with Close.
type Session struct {
	signal   Signal
	locker   wakelock.Locker
	resolver resolver.Resolver
	now      func() time.Time

	mu         sync.Mutex
	closed     bool
	state      State
	target     *geo.Coordinate
	targetName string
	radius     int
	sample     *location.Sample
	distance   *float64
	tripID     string
	wake       wakelock.Lock
	conditions map[ConditionKind]Condition
	version    uint64
	updatedAt  time.Time
	watchers   map[*Subscription]struct{}
	source     location.Subscription
}

// NewSession creates an idle session
func NewSession(opts Options) (*Session, error) {
	radius := opts.Radius
	if radius == 0 {
		radius = DefaultRadius
	}
	if err := ValidateRadius(radius); err != nil {
		return nil, err
	}
	if opts.Signal == nil {
		return nil, errors.New("signal is required")
	}
	locker := opts.WakeLock
	if locker == nil {
		locker = wakelock.Nop{}
	}

	s := &Session{
		signal:     opts.Signal,
		locker:     locker,
		resolver:   opts.Resolver,
		now:        time.Now,
		state:      StateIdle,
		radius:     radius,
		conditions: make(map[ConditionKind]Condition),
		watchers:   make(map[*Subscription]struct{}),
	}
	s.updatedAt = s.now().UTC()

	if n, ok := opts.Signal.(channelNotifier); ok {
		// The callback runs on the alarm loop, which Stop waits for while
		// holding s.mu, so the refresh must not run inline
		n.OnChannels(func(alarm.Channels) { go s.refreshSignalCondition() })
	}
	return s, nil
}

// PrimeAudio unlocks audio output. Call it from the handler of a user gesture.
func (s *Session) PrimeAudio() error {
	if err := s.signal.PrimeAudio(); err != nil {
		log.Warn().Err(err).Msg("Audio priming failed")
		return err
	}
	return nil
}

// SetTarget sets the destination. It is ignored unless the session is idle.
func (s *Session) SetTarget(c geo.Coordinate) (bool, error) {
	if err := c.Validate(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateIdle {
		log.Debug().Str("state", string(s.state)).Msg("Ignoring target change outside idle")
		return false, nil
	}

	s.setTargetLocked(c, "")
	s.publishLocked()
	return true, nil
}

func (s *Session) setTargetLocked(c geo.Coordinate, name string) {
	s.target = &c
	s.targetName = name
	delete(s.conditions, ConditionDestinationNotFound)
	s.recomputeLocked()

	log.Info().
		Float64("lat", c.Lat).
		Float64("lng", c.Lng).
		Str("name", name).
		Msg("Target set")
}

// SetRadius sets the trigger radius. It is ignored unless the session is
// idle and has a target.
func (s *Session) SetRadius(meters int) (bool, error) {
	if err := ValidateRadius(meters); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateIdle || s.target == nil {
		log.Debug().Str("state", string(s.state)).Msg("Ignoring radius change")
		return false, nil
	}

	s.radius = meters
	s.recomputeLocked()
	s.evaluateLocked()
	s.publishLocked()

	log.Info().Int("radius_m", meters).Msg("Radius set")
	return true, nil
}

// SearchTarget resolves query and, when the session is idle, makes the
// result the target. A miss leaves the target unchanged and raises a
// destination_not_found condition. The bool reports whether the target was set.
func (s *Session) SearchTarget(ctx context.Context, query string) (resolver.Destination, bool, error) {
	if s.resolver == nil {
		return resolver.Destination{}, false, fmt.Errorf("%w: no resolver configured", resolver.ErrDestinationNotFound)
	}

	dest, err := s.resolver.Resolve(ctx, query)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return dest, false, err
	}

	if err != nil {
		s.raiseLocked(ConditionDestinationNotFound, err)
		s.publishLocked()
		return resolver.Destination{}, false, err
	}

	if s.state != StateIdle {
		return dest, false, nil
	}

	s.setTargetLocked(dest.Coordinate, dest.Name)
	s.publishLocked()
	return dest, true, nil
}

// Start begins tracking. It needs an idle session with a target and a
// current location. If the traveler is already within the radius the alarm
// fires right away.
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateIdle || s.target == nil || s.sample == nil {
		log.Debug().
			Str("state", string(s.state)).
			Bool("has_target", s.target != nil).
			Bool("has_location", s.sample != nil).
			Msg("Ignoring start")
		return false
	}

	s.state = StateTracking
	s.tripID = uuid.New().String()
	s.acquireWakeLockLocked()
	s.recomputeLocked()

	log.Info().
		Str("trip_id", s.tripID).
		Int("radius_m", s.radius).
		Msg("Tracking started")

	s.evaluateLocked()
	s.publishLocked()
	return true
}

// Cancel ends tracking before arrival
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateTracking {
		return false
	}

	log.Info().Str("trip_id", s.tripID).Msg("Tracking cancelled")

	s.toIdleLocked()
	s.publishLocked()
	return true
}

// Stop silences the alarm and returns to idle from any state
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if s.state != StateIdle {
		log.Info().Str("trip_id", s.tripID).Str("state", string(s.state)).Msg("Alarm stopped")
	}

	s.toIdleLocked()
	s.publishLocked()
}

// HandleSample stores a location sample and evaluates the trip
func (s *Session) HandleSample(sample location.Sample) {
	if err := sample.Coordinate.Validate(); err != nil {
		log.Warn().Err(err).Msg("Rejecting malformed location sample")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.sample = &sample
	delete(s.conditions, ConditionLocationUnavailable)
	s.recomputeLocked()
	s.evaluateLocked()
	s.publishLocked()
}

// HandleError records a location provider failure. It is reported once and
// never changes the tracking state.
func (s *Session) HandleError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if _, ok := s.conditions[ConditionLocationUnavailable]; ok {
		return
	}

	log.Error().Err(err).Msg("Location unavailable")
	s.raiseLocked(ConditionLocationUnavailable, err)
	s.publishLocked()
}

// Attach subscribes the session to a location provider. The subscription
// is released by Close.
func (s *Session) Attach(ctx context.Context, p location.Provider) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("session closed")
	}
	if s.source != nil {
		s.mu.Unlock()
		return errors.New("location provider already attached")
	}
	s.mu.Unlock()

	sub, err := p.Subscribe(ctx, s)
	if err != nil {
		s.HandleError(err)
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		sub.Unsubscribe()
		return errors.New("session closed")
	}
	s.source = sub
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current view
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Close stops the alarm, releases the wake lock, detaches the location
// provider and closes every watcher.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.toIdleLocked()
	s.closed = true
	for w := range s.watchers {
		w.closeLocked()
	}
	s.watchers = nil
	source := s.source
	s.source = nil
	s.mu.Unlock()

	// The provider may be blocked delivering to HandleSample
	if source != nil {
		source.Unsubscribe()
	}

	log.Info().Msg("Session closed")
}

// toIdleLocked stops the signal, releases the wake lock and clears the distance
func (s *Session) toIdleLocked() {
	s.signal.Stop()
	s.releaseWakeLockLocked()
	s.state = StateIdle
	s.distance = nil
	s.tripID = ""
	delete(s.conditions, ConditionSignalDeviceUnavailable)
	delete(s.conditions, ConditionWakeLockDenied)
}

// recomputeLocked refreshes the distance from the latest sample to the target
func (s *Session) recomputeLocked() {
	if s.sample == nil || s.target == nil {
		s.distance = nil
		return
	}
	d := geo.DistanceMeters(s.sample.Coordinate, *s.target)
	s.distance = &d
}

// evaluateLocked fires the alarm when tracking and within the radius
func (s *Session) evaluateLocked() {
	if s.state != StateTracking || s.distance == nil {
		return
	}
	if *s.distance <= float64(s.radius) {
		s.triggerAlarmLocked()
	}
}

// triggerAlarmLocked latches AlarmRinging; further calls are no-ops
func (s *Session) triggerAlarmLocked() {
	if s.state == StateAlarmRinging {
		return
	}

	s.state = StateAlarmRinging
	s.signal.Start()

	if !s.signal.Channels().Any() {
		s.raiseLocked(ConditionSignalDeviceUnavailable, alarm.ErrDeviceUnavailable)
	}

	log.Info().
		Str("trip_id", s.tripID).
		Float64("distance_m", *s.distance).
		Int("radius_m", s.radius).
		Msg("Destination reached, alarm ringing")
}

// refreshSignalCondition re-reads the signal channels of a ringing alarm and
// raises or clears signal_device_unavailable accordingly
func (s *Session) refreshSignalCondition() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.state != StateAlarmRinging {
		return
	}

	_, raised := s.conditions[ConditionSignalDeviceUnavailable]
	live := s.signal.Channels().Any()
	switch {
	case !live && !raised:
		log.Warn().Str("trip_id", s.tripID).Msg("Alarm signal lost every output channel")
		s.raiseLocked(ConditionSignalDeviceUnavailable, alarm.ErrDeviceUnavailable)
	case live && raised:
		log.Info().Str("trip_id", s.tripID).Msg("Alarm signal output restored")
		delete(s.conditions, ConditionSignalDeviceUnavailable)
	default:
		return
	}
	s.publishLocked()
}

func (s *Session) acquireWakeLockLocked() {
	if s.wake != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	lock, err := s.locker.Acquire(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Wake lock unavailable, tracking continues")
		s.raiseLocked(ConditionWakeLockDenied, err)
		return
	}
	s.wake = lock
}

func (s *Session) releaseWakeLockLocked() {
	if s.wake == nil {
		return
	}
	if err := s.wake.Release(); err != nil {
		log.Warn().Err(err).Msg("Failed to release wake lock")
	}
	s.wake = nil
}

func (s *Session) raiseLocked(kind ConditionKind, err error) {
	s.conditions[kind] = Condition{
		Kind:    kind,
		Message: err.Error(),
		At:      s.now().UTC(),
	}
}

func (s *Session) snapshotLocked() Snapshot {
	snap := Snapshot{
		Version:    s.version,
		State:      s.state,
		TargetName: s.targetName,
		Radius:     s.radius,
		TripID:     s.tripID,
		UpdatedAt:  s.updatedAt,
		Conditions: make([]Condition, 0, len(s.conditions)),
	}
	if s.distance != nil {
		d := *s.distance
		snap.Distance = &d
	}
	if s.target != nil {
		t := *s.target
		snap.Target = &t
	}
	if s.sample != nil {
		l := *s.sample
		snap.Location = &l
	}
	// Fixed order keeps snapshots comparable
	for _, kind := range []ConditionKind{
		ConditionLocationUnavailable,
		ConditionDestinationNotFound,
		ConditionSignalDeviceUnavailable,
		ConditionWakeLockDenied,
	} {
		if c, ok := s.conditions[kind]; ok {
			snap.Conditions = append(snap.Conditions, c)
		}
	}
	return snap
}

// publishLocked bumps the version and hands the snapshot to every watcher
func (s *Session) publishLocked() {
	s.version++
	s.updatedAt = s.now().UTC()
	snap := s.snapshotLocked()
	for w := range s.watchers {
		w.offer(snap)
	}
}
