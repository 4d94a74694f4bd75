package alarm

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// Bell rings the terminal bell of the process's controlling terminal
type Bell struct {
	mu  sync.Mutex
	out *os.File
}

// NewBell creates a bell writing to the given file, usually os.Stdout
func NewBell(out *os.File) *Bell {
	return &Bell{out: out}
}

// Prime verifies that the output is an interactive terminal
func (b *Bell) Prime() error {
	fd := b.out.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		return fmt.Errorf("%w: %s is not a terminal", ErrDeviceUnavailable, b.out.Name())
	}
	return nil
}

// Play rings the bell once per high-pitched step of the pattern
func (b *Bell) Play(p Pattern) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	rings := 0
	for _, step := range p.Steps {
		if step.Frequency > 1000 {
			rings++
		}
	}
	if rings == 0 {
		rings = 1
	}

	buf := make([]byte, rings)
	for i := range buf {
		buf[i] = '\a'
	}
	if _, err := b.out.Write(buf); err != nil {
		return fmt.Errorf("failed to ring bell: %w", err)
	}
	return nil
}

// Pulse is one alarm pulse delivered to remote listeners
type Pulse struct {
	Seq     uint64
	At      time.Time
	Pattern Pattern
}

// Broadcast relays pulses to connected presentation clients, which render
// the tone and vibration themselves.
type Broadcast struct {
	mu        sync.Mutex
	unlocked  bool
	seq       uint64
	nextID    int
	listeners map[int]chan Pulse
}

// NewBroadcast creates an empty relay
func NewBroadcast() *Broadcast {
	return &Broadcast{listeners: make(map[int]chan Pulse)}
}

// Prime marks the remote audio as unlocked by a user gesture
func (b *Broadcast) Prime() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unlocked = true
	return nil
}

// Play sends the pulse to every listener without blocking. Slow listeners
// miss pulses rather than stall the alarm loop.
func (b *Broadcast) Play(p Pattern) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.unlocked {
		return fmt.Errorf("%w: remote audio not unlocked", ErrDeviceUnavailable)
	}
	if len(b.listeners) == 0 {
		return fmt.Errorf("%w: no connected listeners", ErrDeviceUnavailable)
	}

	b.seq++
	pulse := Pulse{Seq: b.seq, At: time.Now().UTC(), Pattern: p}
	for _, ch := range b.listeners {
		select {
		case ch <- pulse:
		default:
		}
	}
	return nil
}

// Listen registers a listener. The returned cancel func unregisters it and
// closes the channel.
func (b *Broadcast) Listen() (<-chan Pulse, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Pulse, 4)
	b.listeners[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners, id)
			close(ch)
		})
	}
}

// Tones combines several tone devices; the pulse is audible if any plays it
type Tones []ToneDevice

// Prime primes every device and succeeds if at least one did
func (t Tones) Prime() error {
	var errs []error
	for _, d := range t {
		if err := d.Prime(); err != nil {
			errs = append(errs, err)
			continue
		}
	}
	if len(errs) == len(t) {
		return errors.Join(append([]error{ErrDeviceUnavailable}, errs...)...)
	}
	return nil
}

// Play plays on every device and succeeds if at least one did
func (t Tones) Play(p Pattern) error {
	var errs []error
	for _, d := range t {
		if err := d.Play(p); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == len(t) {
		return errors.Join(append([]error{ErrDeviceUnavailable}, errs...)...)
	}
	return nil
}

// Unsupported is a vibrator for hosts without a vibration motor
type Unsupported struct{}

// Supported always reports false
func (Unsupported) Supported() bool { return false }

// Vibrate always fails
func (Unsupported) Vibrate([]time.Duration) error {
	return fmt.Errorf("%w: vibration not supported", ErrDeviceUnavailable)
}
