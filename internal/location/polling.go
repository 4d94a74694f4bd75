package location

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stuartshay/arrival-alarm/internal/database"
	"github.com/stuartshay/arrival-alarm/internal/geo"
)

// LatestLocator reads the newest fix of a device; *database.Client implements it
type LatestLocator interface {
	LatestLocation(ctx context.Context, deviceID string) (*database.Location, error)
	HealthCheck(ctx context.Context) error
}

// connectTimeout bounds the reachability check made by Subscribe
const connectTimeout = 5 * time.Second

// PollingProvider reads the newest OwnTracks row of a device from Postgres
// right away and then once per interval, emitting only new fixes.
type PollingProvider struct {
	store    LatestLocator
	deviceID string
	interval time.Duration
	maxAge   time.Duration
	now      func() time.Time
}

// NewPollingProvider creates a provider backed by the OwnTracks table
func NewPollingProvider(store LatestLocator, deviceID string, interval, maxAge time.Duration) *PollingProvider {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &PollingProvider{
		store:    store,
		deviceID: deviceID,
		interval: interval,
		maxAge:   maxAge,
		now:      time.Now,
	}
}

// Subscribe checks that the database is reachable and starts polling. An
// unreachable database fails with ErrUnavailable. A later query failure is
// reported once as ErrUnavailable and ends the subscription.
func (p *PollingProvider) Subscribe(ctx context.Context, h Handler) (Subscription, error) {
	checkCtx, checkCancel := context.WithTimeout(ctx, connectTimeout)
	err := p.store.HealthCheck(checkCtx)
	checkCancel()
	if err != nil {
		return nil, fmt.Errorf("%w: database unreachable: %w", ErrUnavailable, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go p.poll(ctx, h, done)

	log.Info().
		Str("device_id", p.deviceID).
		Dur("interval", p.interval).
		Msg("Polling OwnTracks locations")

	return subscriptionFunc(func() {
		cancel()
		<-done
	}), nil
}

func (p *PollingProvider) poll(ctx context.Context, h Handler, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last time.Time
	for {
		if !p.check(ctx, h, &last) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check fetches one row and reports whether polling should continue
func (p *PollingProvider) check(ctx context.Context, h Handler, last *time.Time) bool {
	loc, err := p.store.LatestLocation(ctx, p.deviceID)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		log.Error().Err(err).Str("device_id", p.deviceID).Msg("Location query failed")
		h.HandleError(fmt.Errorf("%w: %w", ErrUnavailable, err))
		return false
	}
	if loc == nil {
		return true
	}

	sample := Sample{
		Coordinate: geo.Coordinate{Lat: loc.Latitude, Lng: loc.Longitude},
		Accuracy:   float64(loc.Accuracy),
		Timestamp:  loc.ReportedAt(),
		DeviceID:   loc.DeviceID,
	}

	if !sample.Timestamp.After(*last) {
		return true
	}
	*last = sample.Timestamp

	if stale(sample, p.maxAge, p.now()) {
		log.Debug().Time("reported_at", sample.Timestamp).Msg("Skipping stale location")
		return true
	}
	if err := sample.Coordinate.Validate(); err != nil {
		log.Warn().Err(err).Int64("id", loc.ID).Msg("Skipping malformed location row")
		return true
	}

	h.HandleSample(sample)
	return true
}
