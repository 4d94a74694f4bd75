// Package wakelock keeps the host awake while a trip is being tracked.
package wakelock

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"
)

// ErrDenied is returned when the platform refuses or lacks a wake lock
var ErrDenied = errors.New("wake lock denied")

// Lock is a held wake lock
type Lock interface {
	Release() error
}

// Locker acquires wake locks
type Locker interface {
	Acquire(ctx context.Context) (Lock, error)
}

// Nop is used on platforms without a wake-lock primitive
type Nop struct{}

// Acquire always fails with ErrDenied
func (Nop) Acquire(context.Context) (Lock, error) {
	return nil, fmt.Errorf("%w: not supported on this platform", ErrDenied)
}

// Inhibitor holds a systemd-logind idle/sleep inhibitor for as long as the
// lock is held.
type Inhibitor struct {
	Binary string
	Why    string
}

// NewInhibitor creates an inhibitor using systemd-inhibit from PATH
func NewInhibitor() *Inhibitor {
	return &Inhibitor{
		Binary: "systemd-inhibit",
		Why:    "Arrival alarm is tracking a trip",
	}
}

// Acquire starts the inhibitor process
func (i *Inhibitor) Acquire(ctx context.Context) (Lock, error) {
	path, err := exec.LookPath(i.Binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDenied, err)
	}

	// The inhibitor lives as long as the lock, not as long as ctx
	cmd := exec.Command(path, //nolint:gosec // binary resolved from configuration
		"--what=idle:sleep",
		"--who=arrival-alarm",
		"--why="+i.Why,
		"--mode=block",
		"sleep", "infinity",
	)
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDenied, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: failed to start inhibitor: %w", ErrDenied, err)
	}

	log.Debug().Int("pid", cmd.Process.Pid).Msg("Wake lock acquired")

	return &processLock{cmd: cmd}, nil
}

type processLock struct {
	once sync.Once
	cmd  *exec.Cmd
	err  error
}

// Release stops the inhibitor process; further calls are no-ops
func (l *processLock) Release() error {
	l.once.Do(func() {
		if err := l.cmd.Process.Kill(); err != nil {
			l.err = fmt.Errorf("failed to release wake lock: %w", err)
			return
		}
		// Wait reaps the process; it reports the kill signal as an error
		_ = l.cmd.Wait()
		log.Debug().Msg("Wake lock released")
	})
	return l.err
}
