package alarm

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTone struct {
	mu       sync.Mutex
	primeErr error
	playErr  error
	primes   int
	plays    int
}

func (f *fakeTone) Prime() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.primes++
	return f.primeErr
}

func (f *fakeTone) Play(Pattern) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.plays++
	return f.playErr
}

func (f *fakeTone) playCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.plays
}

type fakeVibrator struct {
	mu        sync.Mutex
	supported bool
	calls     [][]time.Duration
}

func (f *fakeVibrator) Supported() bool { return f.supported }

func (f *fakeVibrator) Vibrate(p []time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, p)
	return nil
}

func (f *fakeVibrator) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// running reports whether the repeating task is active
func running(g *Generator) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.cancel != nil
}

// frequencyAt returns the frequency sounding at offset d, or 0 past the end
func frequencyAt(p Pattern, d time.Duration) float64 {
	if d < 0 || d >= p.Duration {
		return 0
	}
	freq := 0.0
	for _, step := range p.Steps {
		if step.Offset > d {
			break
		}
		freq = step.Frequency
	}
	return freq
}

func TestGenerator_StartPulsesImmediatelyAndRepeats(t *testing.T) {
	tone := &fakeTone{}
	vib := &fakeVibrator{supported: true}
	g := NewGenerator(tone, vib, 20*time.Millisecond)

	require.NoError(t, g.PrimeAudio())
	g.Start()

	assert.Eventually(t, func() bool { return tone.playCount() >= 3 }, time.Second, 5*time.Millisecond)
	g.Stop()

	assert.GreaterOrEqual(t, vib.count(), 3)
	assert.Equal(t, DefaultPattern().Vibration, vib.calls[0])
	assert.Equal(t, Channels{Audio: true, Vibration: true}, g.Channels())
}

func TestGenerator_DoubleStartKeepsOneLoop(t *testing.T) {
	tone := &fakeTone{}
	g := NewGenerator(tone, nil, time.Hour)
	require.NoError(t, g.PrimeAudio())

	g.Start()
	g.Start()

	assert.Eventually(t, func() bool { return tone.playCount() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	// One loop means exactly one immediate pulse for an hour-long interval
	assert.Equal(t, 1, tone.playCount())
	assert.Equal(t, uint64(1), g.Pulses())
	assert.True(t, running(g))

	g.Stop()
	assert.False(t, running(g))
}

func TestGenerator_NoPulseAfterStop(t *testing.T) {
	tone := &fakeTone{}
	g := NewGenerator(tone, nil, 5*time.Millisecond)
	require.NoError(t, g.PrimeAudio())

	g.Start()
	assert.Eventually(t, func() bool { return tone.playCount() >= 2 }, time.Second, time.Millisecond)
	g.Stop()

	after := tone.playCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, tone.playCount())
}

func TestGenerator_StopWhenIdleIsNoop(t *testing.T) {
	g := NewGenerator(&fakeTone{}, nil, 0)
	g.Stop()
	g.Stop()
	assert.False(t, running(g))
	assert.Equal(t, DefaultInterval, g.interval)
}

func TestGenerator_RestartAfterStop(t *testing.T) {
	tone := &fakeTone{}
	g := NewGenerator(tone, nil, time.Hour)
	require.NoError(t, g.PrimeAudio())

	g.Start()
	assert.Eventually(t, func() bool { return tone.playCount() == 1 }, time.Second, time.Millisecond)
	g.Stop()

	g.Start()
	assert.Eventually(t, func() bool { return tone.playCount() == 2 }, time.Second, time.Millisecond)
	g.Stop()
}

func TestGenerator_NoDevicesDoesNotFail(t *testing.T) {
	g := NewGenerator(nil, Unsupported{}, 5*time.Millisecond)

	err := g.PrimeAudio()
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	g.Start()
	assert.Eventually(t, func() bool { return g.Pulses() >= 2 }, time.Second, time.Millisecond)
	g.Stop()

	assert.False(t, g.Channels().Any())
}

func TestGenerator_VibrationOnlyWhenAudioBlocked(t *testing.T) {
	tone := &fakeTone{primeErr: ErrDeviceUnavailable}
	vib := &fakeVibrator{supported: true}
	g := NewGenerator(tone, vib, 5*time.Millisecond)

	assert.Error(t, g.PrimeAudio())

	g.Start()
	assert.Eventually(t, func() bool { return vib.count() >= 2 }, time.Second, time.Millisecond)
	g.Stop()

	assert.Equal(t, 0, tone.playCount())
	assert.Equal(t, Channels{Audio: false, Vibration: true}, g.Channels())
}

func TestGenerator_StartPrimesLazily(t *testing.T) {
	tone := &fakeTone{}
	g := NewGenerator(tone, nil, time.Hour)

	g.Start()
	assert.Eventually(t, func() bool { return tone.playCount() == 1 }, time.Second, time.Millisecond)
	g.Stop()

	assert.Equal(t, 1, tone.primes)
}

func TestGenerator_PlayFailureDowngradesAudio(t *testing.T) {
	tone := &fakeTone{playErr: errors.New("device gone")}
	g := NewGenerator(tone, nil, time.Hour)
	require.NoError(t, g.PrimeAudio())
	assert.True(t, g.Channels().Audio)

	g.Start()
	assert.Eventually(t, func() bool { return !g.Channels().Audio }, time.Second, time.Millisecond)
	g.Stop()
}

func TestGenerator_FirstPulseBeforeStartReturns(t *testing.T) {
	b := NewBroadcast()
	g := NewGenerator(Tones{b}, Unsupported{}, time.Hour)
	require.NoError(t, g.PrimeAudio())
	assert.True(t, g.Channels().Audio, "primed but not yet played")

	g.Start()
	defer g.Stop()

	assert.Equal(t, uint64(1), g.Pulses())
	assert.Equal(t, Channels{}, g.Channels(), "no listener heard the first pulse")
}

func TestGenerator_OnChannelsReportsChanges(t *testing.T) {
	b := NewBroadcast()
	g := NewGenerator(Tones{b}, Unsupported{}, 5*time.Millisecond)
	require.NoError(t, g.PrimeAudio())

	var mu sync.Mutex
	var seen []Channels
	g.OnChannels(func(c Channels) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c)
	})
	last := func() (Channels, int) {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return Channels{}, 0
		}
		return seen[len(seen)-1], len(seen)
	}

	g.Start()
	c, n := last()
	require.Equal(t, 1, n, "the failed first pulse is reported from Start")
	assert.False(t, c.Audio)

	pulses, cancel := b.Listen()
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		for range pulses {
		}
	}()

	assert.Eventually(t, func() bool {
		c, _ := last()
		return c.Audio
	}, time.Second, time.Millisecond)

	cancel()
	<-drained
	assert.Eventually(t, func() bool {
		c, _ := last()
		return !c.Audio
	}, time.Second, time.Millisecond)

	g.Stop()

	// Steady pulses do not repeat the report
	_, n = last()
	assert.Equal(t, 3, n)
}

func TestPattern_FrequencyAt(t *testing.T) {
	p := DefaultPattern()

	tests := []struct {
		offset   time.Duration
		expected float64
	}{
		{0, 880},
		{50 * time.Millisecond, 880},
		{100 * time.Millisecond, 1760},
		{250 * time.Millisecond, 880},
		{499 * time.Millisecond, 1760},
		{500 * time.Millisecond, 0},
		{-time.Millisecond, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, frequencyAt(p, tt.offset), "offset %s", tt.offset)
	}
}

func TestBroadcast(t *testing.T) {
	b := NewBroadcast()

	err := b.Play(DefaultPattern())
	assert.ErrorIs(t, err, ErrDeviceUnavailable, "locked broadcast must not play")

	require.NoError(t, b.Prime())
	err = b.Play(DefaultPattern())
	assert.ErrorIs(t, err, ErrDeviceUnavailable, "no listeners")

	ch, cancel := b.Listen()
	require.NoError(t, b.Play(DefaultPattern()))

	pulse := <-ch
	assert.Equal(t, uint64(1), pulse.Seq)
	assert.Equal(t, "square", pulse.Pattern.Waveform)

	cancel()
	cancel()
	_, open := <-ch
	assert.False(t, open)
}

func TestTones(t *testing.T) {
	ok := &fakeTone{}
	broken := &fakeTone{primeErr: ErrDeviceUnavailable, playErr: ErrDeviceUnavailable}

	assert.NoError(t, Tones{broken, ok}.Prime())
	assert.NoError(t, Tones{broken, ok}.Play(DefaultPattern()))
	assert.ErrorIs(t, Tones{broken}.Prime(), ErrDeviceUnavailable)
	assert.ErrorIs(t, Tones{broken}.Play(DefaultPattern()), ErrDeviceUnavailable)
}

func TestBell(t *testing.T) {
	f, err := os.Create(filepath.Join(t.TempDir(), "bell.out"))
	require.NoError(t, err)
	defer f.Close()

	bell := NewBell(f)
	assert.ErrorIs(t, bell.Prime(), ErrDeviceUnavailable, "regular file is not a terminal")

	require.NoError(t, bell.Play(DefaultPattern()))
	content, err := os.ReadFile(f.Name())
	require.NoError(t, err)
	assert.Equal(t, "\a\a", string(content))
}

func TestUnsupported(t *testing.T) {
	var v Unsupported
	assert.False(t, v.Supported())
	assert.ErrorIs(t, v.Vibrate(nil), ErrDeviceUnavailable)
}
