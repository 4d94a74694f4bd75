package alarm

import "time"

// ToneStep is one frequency held from Offset until the next step
type ToneStep struct {
	Offset    time.Duration
	Frequency float64
}

// Pattern describes a single alarm pulse
type Pattern struct {
	Waveform  string
	Steps     []ToneStep
	Gain      float64
	FloorGain float64
	Duration  time.Duration
	Vibration []time.Duration
}

// DefaultPattern returns the A5/A6 square-wave chirp: four 100ms steps with
// the gain decaying exponentially over 500ms, plus a buzz-pause-buzz vibration.
func DefaultPattern() Pattern {
	return Pattern{
		Waveform: "square",
		Steps: []ToneStep{
			{Offset: 0, Frequency: 880},
			{Offset: 100 * time.Millisecond, Frequency: 1760},
			{Offset: 200 * time.Millisecond, Frequency: 880},
			{Offset: 300 * time.Millisecond, Frequency: 1760},
		},
		Gain:      0.5,
		FloorGain: 0.01,
		Duration:  500 * time.Millisecond,
		Vibration: []time.Duration{
			200 * time.Millisecond,
			100 * time.Millisecond,
			200 * time.Millisecond,
		},
	}
}
