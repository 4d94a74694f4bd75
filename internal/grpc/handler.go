// Package grpc implements the AlarmService gRPC server, exposing the
// tracking session and destination search to remote clients.
package grpc

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/queue"
	"github.com/stuartshay/arrival-alarm/internal/tracker"
)

// Server implements AlarmServiceServer
type Server struct {
	session *tracker.Session
	queue   *queue.Queue
}

// NewServer creates a new gRPC server instance. searches may be nil when
// destination search is not configured.
func NewServer(session *tracker.Session, searches *queue.Queue) *Server {
	return &Server{
		session: session,
		queue:   searches,
	}
}

// GetState returns the current session snapshot
func (s *Server) GetState(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return toStruct(stateFields(s.session.Snapshot()))
}

// SetTarget sets the destination from {lat, lng}
func (s *Server) SetTarget(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	lat, err := numberField(req, "lat")
	if err != nil {
		return nil, err
	}
	lng, err := numberField(req, "lng")
	if err != nil {
		return nil, err
	}

	applied, err := s.session.SetTarget(geo.Coordinate{Lat: lat, Lng: lng})
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.intent(applied)
}

// SetRadius sets the trigger radius from {radius}
func (s *Server) SetRadius(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	radius, err := numberField(req, "radius")
	if err != nil {
		return nil, err
	}
	if radius != math.Trunc(radius) {
		return nil, status.Errorf(codes.InvalidArgument, "radius must be a whole number of meters, got %v", radius)
	}

	applied, err := s.session.SetRadius(int(radius))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.intent(applied)
}

// Start primes audio and begins tracking
func (s *Server) Start(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	_ = s.session.PrimeAudio()
	return s.intent(s.session.Start())
}

// Cancel ends tracking before arrival
func (s *Server) Cancel(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.intent(s.session.Cancel())
}

// Stop silences the alarm and returns to idle
func (s *Server) Stop(_ context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	s.session.Stop()
	return s.intent(true)
}

// Search queues a destination lookup for {query}
func (s *Server) Search(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.queue == nil {
		return nil, status.Error(codes.FailedPrecondition, "destination search is not configured")
	}

	query := req.GetFields()["query"].GetStringValue()

	log.Info().Str("query", query).Msg("Received destination search request")

	jobID, err := s.queue.Enqueue(query)
	switch {
	case errors.Is(err, queue.ErrEmptyQuery):
		return nil, status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, queue.ErrQueueFull):
		return nil, status.Error(codes.ResourceExhausted, err.Error())
	case err != nil:
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	}

	job, err := s.queue.GetJob(jobID)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return toStruct(jobFields(job))
}

// GetSearch returns the search job named by {id}
func (s *Server) GetSearch(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.queue == nil {
		return nil, status.Error(codes.FailedPrecondition, "destination search is not configured")
	}

	job, err := s.queue.GetJob(req.GetFields()["id"].GetStringValue())
	if err != nil {
		return nil, status.Error(codes.NotFound, err.Error())
	}
	return toStruct(jobFields(job))
}

// Watch streams every snapshot until the client goes away or the session closes
func (s *Server) Watch(_ *emptypb.Empty, stream WatchStream) error {
	sub := s.session.Watch()
	defer sub.Cancel()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case snap, ok := <-sub.C:
			if !ok {
				return nil
			}
			msg, err := toStruct(stateFields(snap))
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *Server) intent(applied bool) (*structpb.Struct, error) {
	return toStruct(map[string]interface{}{
		"applied": applied,
		"state":   stateFields(s.session.Snapshot()),
	})
}

func numberField(req *structpb.Struct, name string) (float64, error) {
	v, ok := req.GetFields()[name]
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, status.Errorf(codes.InvalidArgument, "%s must be a number", name)
	}
	return n.NumberValue, nil
}

func toStruct(fields map[string]interface{}) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func stateFields(snap tracker.Snapshot) map[string]interface{} {
	conditions := make([]interface{}, 0, len(snap.Conditions))
	for _, c := range snap.Conditions {
		conditions = append(conditions, map[string]interface{}{
			"kind":    string(c.Kind),
			"message": c.Message,
			"at":      timestamp(c.At),
		})
	}

	fields := map[string]interface{}{
		"version":    float64(snap.Version),
		"state":      string(snap.State),
		"radius_m":   snap.Radius,
		"distance_m": nil,
		"target":     nil,
		"location":   nil,
		"conditions": conditions,
		"updated_at": timestamp(snap.UpdatedAt),
	}
	if snap.Distance != nil {
		fields["distance_m"] = *snap.Distance
		fields["distance_text"] = geo.FormatDistance(*snap.Distance)
	}
	if snap.Target != nil {
		fields["target"] = map[string]interface{}{"lat": snap.Target.Lat, "lng": snap.Target.Lng}
	}
	if snap.TargetName != "" {
		fields["target_name"] = snap.TargetName
	}
	if snap.Location != nil {
		fields["location"] = map[string]interface{}{
			"lat":        snap.Location.Coordinate.Lat,
			"lng":        snap.Location.Coordinate.Lng,
			"accuracy_m": snap.Location.Accuracy,
			"timestamp":  timestamp(snap.Location.Timestamp),
			"device_id":  snap.Location.DeviceID,
		}
	}
	if snap.TripID != "" {
		fields["trip_id"] = snap.TripID
	}
	return fields
}

func jobFields(job *queue.Job) map[string]interface{} {
	fields := map[string]interface{}{
		"id":        job.ID,
		"query":     job.Query,
		"status":    string(job.Status),
		"queued_at": timestamp(job.QueuedAt),
	}
	if job.StartedAt != nil {
		fields["started_at"] = timestamp(*job.StartedAt)
	}
	if job.CompletedAt != nil {
		fields["completed_at"] = timestamp(*job.CompletedAt)
	}
	if job.ErrorMessage != "" {
		fields["error"] = job.ErrorMessage
	}
	if r := job.Result; r != nil {
		fields["result"] = map[string]interface{}{
			"name":               r.Name,
			"lat":                r.Coordinate.Lat,
			"lng":                r.Coordinate.Lng,
			"description":        r.Description,
			"applied":            r.Applied,
			"processing_time_ms": r.ProcessingTimeMS,
		}
	}
	return fields
}
