// Package tracker implements the proximity-tracking session: it consumes
// location samples, compares the distance to the destination with the
// trip radius and latches the alarm once the traveler is within range.
package tracker

import (
	"errors"
	"fmt"
	"time"

	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/location"
)

// State is the tracking status of the session
type State string

// Session states
const (
	StateIdle         State = "idle"
	StateTracking     State = "tracking"
	StateAlarmRinging State = "alarm_ringing"
)

// Radius bounds in meters
const (
	MinRadius     = 100
	MaxRadius     = 2000
	RadiusStep    = 100
	DefaultRadius = 500
)

// ErrInvalidRadius is returned for radii outside [MinRadius, MaxRadius] or off-step
var ErrInvalidRadius = errors.New("invalid radius")

// ValidateRadius checks bounds and step
func ValidateRadius(meters int) error {
	if meters < MinRadius || meters > MaxRadius {
		return fmt.Errorf("%w: %d m must be between %d and %d", ErrInvalidRadius, meters, MinRadius, MaxRadius)
	}
	if meters%RadiusStep != 0 {
		return fmt.Errorf("%w: %d m must be a multiple of %d", ErrInvalidRadius, meters, RadiusStep)
	}
	return nil
}

// ConditionKind classifies a collaborator failure surfaced to the presentation layer
type ConditionKind string

// Condition kinds
const (
	ConditionLocationUnavailable     ConditionKind = "location_unavailable"
	ConditionDestinationNotFound     ConditionKind = "destination_not_found"
	ConditionSignalDeviceUnavailable ConditionKind = "signal_device_unavailable"
	ConditionWakeLockDenied          ConditionKind = "wake_lock_denied"
)

// Condition is a non-fatal error attached to the session
type Condition struct {
	Kind    ConditionKind
	Message string
	At      time.Time
}

// Snapshot is the view handed to the presentation layer on every change
type Snapshot struct {
	Version    uint64
	State      State
	Distance   *float64
	Target     *geo.Coordinate
	TargetName string
	Radius     int
	Location   *location.Sample
	TripID     string
	Conditions []Condition
	UpdatedAt  time.Time
}

// HasCondition reports whether a condition of the given kind is active
func (s Snapshot) HasCondition(kind ConditionKind) bool {
	for _, c := range s.Conditions {
		if c.Kind == kind {
			return true
		}
	}
	return false
}
