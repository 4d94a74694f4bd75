package httpapi

import (
	"time"

	"github.com/stuartshay/arrival-alarm/internal/alarm"
	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/queue"
	"github.com/stuartshay/arrival-alarm/internal/tracker"
)

type healthView struct {
	Status            string         `json:"status"`
	Service           string         `json:"service"`
	LocationAvailable bool           `json:"location_available"`
	Searches          map[string]int `json:"searches,omitempty"`
}

type coordinateView struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type locationView struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	AccuracyM float64   `json:"accuracy_m,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id,omitempty"`
}

type conditionView struct {
	Kind    string    `json:"kind"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// StateView is the JSON form of a session snapshot
type StateView struct {
	Version      uint64          `json:"version"`
	State        string          `json:"state"`
	DistanceM    *float64        `json:"distance_m"`
	DistanceText string          `json:"distance_text,omitempty"`
	Target       *coordinateView `json:"target"`
	TargetName   string          `json:"target_name,omitempty"`
	RadiusM      int             `json:"radius_m"`
	Location     *locationView   `json:"location"`
	TripID       string          `json:"trip_id,omitempty"`
	Conditions   []conditionView `json:"conditions"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func newStateView(snap tracker.Snapshot) StateView {
	v := StateView{
		Version:    snap.Version,
		State:      string(snap.State),
		DistanceM:  snap.Distance,
		TargetName: snap.TargetName,
		RadiusM:    snap.Radius,
		TripID:     snap.TripID,
		Conditions: make([]conditionView, 0, len(snap.Conditions)),
		UpdatedAt:  snap.UpdatedAt,
	}
	if snap.Distance != nil {
		v.DistanceText = geo.FormatDistance(*snap.Distance)
	}
	if snap.Target != nil {
		v.Target = &coordinateView{Lat: snap.Target.Lat, Lng: snap.Target.Lng}
	}
	if snap.Location != nil {
		v.Location = &locationView{
			Lat:       snap.Location.Coordinate.Lat,
			Lng:       snap.Location.Coordinate.Lng,
			AccuracyM: snap.Location.Accuracy,
			Timestamp: snap.Location.Timestamp,
			DeviceID:  snap.Location.DeviceID,
		}
	}
	for _, c := range snap.Conditions {
		v.Conditions = append(v.Conditions, conditionView{Kind: string(c.Kind), Message: c.Message, At: c.At})
	}
	return v
}

type intentView struct {
	Applied bool      `json:"applied"`
	State   StateView `json:"state"`
}

type sessionView struct {
	AudioPrimed bool      `json:"audio_primed"`
	State       StateView `json:"state"`
}

type searchResultView struct {
	Name             string  `json:"name"`
	Lat              float64 `json:"lat"`
	Lng              float64 `json:"lng"`
	Description      string  `json:"description,omitempty"`
	Applied          bool    `json:"applied"`
	ProcessingTimeMS int64   `json:"processing_time_ms"`
}

type jobView struct {
	ID          string            `json:"id"`
	Query       string            `json:"query"`
	Status      string            `json:"status"`
	QueuedAt    time.Time         `json:"queued_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	Error       string            `json:"error,omitempty"`
	Result      *searchResultView `json:"result,omitempty"`
}

type jobListView struct {
	Jobs  []jobView `json:"jobs"`
	Count int       `json:"count"`
}

func newJobView(job *queue.Job) jobView {
	v := jobView{
		ID:          job.ID,
		Query:       job.Query,
		Status:      string(job.Status),
		QueuedAt:    job.QueuedAt,
		StartedAt:   job.StartedAt,
		CompletedAt: job.CompletedAt,
		Error:       job.ErrorMessage,
	}
	if r := job.Result; r != nil {
		v.Result = &searchResultView{
			Name:             r.Name,
			Lat:              r.Coordinate.Lat,
			Lng:              r.Coordinate.Lng,
			Description:      r.Description,
			Applied:          r.Applied,
			ProcessingTimeMS: r.ProcessingTimeMS,
		}
	}
	return v
}

type toneStepView struct {
	OffsetMS  int64   `json:"offset_ms"`
	Frequency float64 `json:"frequency_hz"`
}

type pulseView struct {
	Seq         uint64         `json:"seq"`
	At          time.Time      `json:"at"`
	Waveform    string         `json:"waveform"`
	Steps       []toneStepView `json:"steps"`
	Gain        float64        `json:"gain"`
	FloorGain   float64        `json:"floor_gain"`
	DurationMS  int64          `json:"duration_ms"`
	VibrationMS []int64        `json:"vibration_ms"`
}

func newPulseView(p alarm.Pulse) pulseView {
	v := pulseView{
		Seq:        p.Seq,
		At:         p.At,
		Waveform:   p.Pattern.Waveform,
		Gain:       p.Pattern.Gain,
		FloorGain:  p.Pattern.FloorGain,
		DurationMS: p.Pattern.Duration.Milliseconds(),
	}
	for _, s := range p.Pattern.Steps {
		v.Steps = append(v.Steps, toneStepView{OffsetMS: s.Offset.Milliseconds(), Frequency: s.Frequency})
	}
	for _, d := range p.Pattern.Vibration {
		v.VibrationMS = append(v.VibrationMS, d.Milliseconds())
	}
	return v
}

// event is one WebSocket frame
type event struct {
	Type  string     `json:"type"`
	State *StateView `json:"state,omitempty"`
	Pulse *pulseView `json:"pulse,omitempty"`
}
