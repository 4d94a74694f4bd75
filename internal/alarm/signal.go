// Package alarm produces the repeating arrival signal: a two-tone audio
// pattern plus a vibration pulse, emitted once per interval until stopped.
package alarm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultInterval is the time between two pulses of a ringing alarm
const DefaultInterval = time.Second

// ErrDeviceUnavailable is returned when neither audio nor vibration can be produced
var ErrDeviceUnavailable = errors.New("signal device unavailable")

// ToneDevice plays the audio part of a pulse
type ToneDevice interface {
	// Prime unlocks the output. It must be called from a user-initiated action.
	Prime() error
	Play(p Pattern) error
}

// Vibrator drives the vibration part of a pulse
type Vibrator interface {
	Supported() bool
	Vibrate(pattern []time.Duration) error
}

// Channels reports which signal channels are currently live
type Channels struct {
	Audio     bool
	Vibration bool
}

// Any reports whether at least one channel can signal the user
func (c Channels) Any() bool {
	return c.Audio || c.Vibration
}

// Generator owns the repeating alarm task
type Generator struct {
	tone     ToneDevice
	vibrator Vibrator
	interval time.Duration
	pattern  Pattern

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	primed     atomic.Bool
	audioOK    atomic.Bool
	vibraOK    atomic.Bool
	pulses     atomic.Uint64
	onChannels atomic.Pointer[func(Channels)]
}

// NewGenerator creates a generator. Either device may be nil.
// A non-positive interval falls back to DefaultInterval.
func NewGenerator(tone ToneDevice, vibrator Vibrator, interval time.Duration) *Generator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	g := &Generator{
		tone:     tone,
		vibrator: vibrator,
		interval: interval,
		pattern:  DefaultPattern(),
	}
	g.vibraOK.Store(vibrator != nil && vibrator.Supported())
	return g
}

// PrimeAudio unlocks the tone device. Call it synchronously inside the
// handler of a user gesture such as "begin session" or "start tracking".
func (g *Generator) PrimeAudio() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.primeLocked()
}

func (g *Generator) primeLocked() error {
	if g.tone == nil {
		g.audioOK.Store(false)
		return ErrDeviceUnavailable
	}
	if err := g.tone.Prime(); err != nil {
		g.audioOK.Store(false)
		return err
	}
	g.primed.Store(true)
	g.audioOK.Store(true)
	return nil
}

// Start begins the repeating signal. It is a no-op while already running.
func (g *Generator) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.cancel != nil {
		return
	}

	if !g.primed.Load() {
		if err := g.primeLocked(); err != nil {
			log.Warn().Err(err).Msg("Audio not primed, alarm continues without sound")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	g.cancel = cancel
	g.done = done

	// The first pulse plays before Start returns, so Channels reflects real output
	g.pulse(ctx)

	go g.loop(ctx, done)

	log.Info().
		Dur("interval", g.interval).
		Bool("audio", g.audioOK.Load()).
		Bool("vibration", g.vibraOK.Load()).
		Msg("Alarm signal started")
}

// Stop cancels the repeating signal and waits for the loop to exit, so no
// pulse is emitted once Stop returns. It is a no-op when not running.
func (g *Generator) Stop() {
	g.mu.Lock()
	cancel, done := g.cancel, g.done
	g.cancel, g.done = nil, nil
	g.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	log.Info().Uint64("pulses", g.pulses.Load()).Msg("Alarm signal stopped")
}

// OnChannels registers fn to be called whenever a pulse changes the live
// channels. fn runs on the pulse path, also inside Start, and must not block.
func (g *Generator) OnChannels(fn func(Channels)) {
	if fn == nil {
		g.onChannels.Store(nil)
		return
	}
	g.onChannels.Store(&fn)
}

// Channels reports which channels produced (or can produce) the last pulse
func (g *Generator) Channels() Channels {
	return Channels{
		Audio:     g.audioOK.Load(),
		Vibration: g.vibraOK.Load(),
	}
}

// Pulses returns the number of pulses emitted since creation
func (g *Generator) Pulses() uint64 {
	return g.pulses.Load()
}

// loop emits one pulse per interval after the one played by Start
func (g *Generator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.pulse(ctx)
		}
	}
}

// pulse plays the tone and vibration once. Device failures are logged and
// downgrade the channel; they never stop the loop.
func (g *Generator) pulse(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	seq := g.pulses.Add(1)
	before := g.Channels()

	if g.tone != nil && g.primed.Load() {
		if err := g.tone.Play(g.pattern); err != nil {
			if g.audioOK.Swap(false) {
				log.Warn().Err(err).Uint64("pulse", seq).Msg("Audio signal failed")
			}
		} else {
			g.audioOK.Store(true)
		}
	}

	if g.vibrator != nil && g.vibrator.Supported() {
		if err := g.vibrator.Vibrate(g.pattern.Vibration); err != nil {
			if g.vibraOK.Swap(false) {
				log.Warn().Err(err).Uint64("pulse", seq).Msg("Vibration signal failed")
			}
		} else {
			g.vibraOK.Store(true)
		}
	}

	if after := g.Channels(); after != before {
		if fn := g.onChannels.Load(); fn != nil {
			(*fn)(after)
		}
	}
}
