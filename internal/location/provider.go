// Package location delivers live position samples from OwnTracks feeds to
// the tracking session through push-style subscriptions.
package location

import (
	"context"
	"errors"
	"time"

	"github.com/stuartshay/arrival-alarm/internal/geo"
)

// ErrUnavailable is delivered when the position source is denied or absent.
// Providers report it once and stop; they never retry on their own.
var ErrUnavailable = errors.New("location unavailable")

// Sample is one position fix
type Sample struct {
	Coordinate geo.Coordinate
	// Accuracy is the reported horizontal accuracy in meters, 0 if unknown
	Accuracy  float64
	Timestamp time.Time
	DeviceID  string
}

// Handler receives samples and failures from a provider
type Handler interface {
	HandleSample(s Sample)
	HandleError(err error)
}

// Subscription is the handle returned by Subscribe
type Subscription interface {
	Unsubscribe()
}

// Provider is a push-style position source
type Provider interface {
	Subscribe(ctx context.Context, h Handler) (Subscription, error)
}

// stale reports whether a sample is older than maxAge. A zero maxAge
// accepts samples of any age.
func stale(s Sample, maxAge time.Duration, now time.Time) bool {
	if maxAge <= 0 || s.Timestamp.IsZero() {
		return false
	}
	return now.Sub(s.Timestamp) > maxAge
}

// subscriptionFunc adapts a cancel function to Subscription
type subscriptionFunc func()

func (f subscriptionFunc) Unsubscribe() { f() }
