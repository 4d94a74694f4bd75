// Package resolver turns a free-text destination query into coordinates
// using the Gemini API with a structured JSON response.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/genai"

	"github.com/stuartshay/arrival-alarm/internal/geo"
)

// DefaultModel is the Gemini model used when none is configured
const DefaultModel = "gemini-2.5-flash"

// ErrDestinationNotFound covers both "no match" and transport failures;
// callers may retry immediately.
var ErrDestinationNotFound = errors.New("destination not found")

// Destination is a resolved place
type Destination struct {
	Name        string
	Coordinate  geo.Coordinate
	Description string
}

// Resolver looks up destinations
type Resolver interface {
	Resolve(ctx context.Context, query string) (Destination, error)
}

// answer is the JSON object the model is constrained to return
type answer struct {
	Lat         *float64 `json:"lat"`
	Lng         *float64 `json:"lng"`
	Description string   `json:"description"`
}

// Gemini resolves destinations with a Gemini model
type Gemini struct {
	model    string
	tracer   trace.Tracer
	generate func(ctx context.Context, prompt string) (string, error)
}

// NewGemini creates a resolver for the Gemini Developer API
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}

	g := newGemini(model, nil)
	g.generate = func(ctx context.Context, prompt string) (string, error) {
		resp, err := client.Models.GenerateContent(ctx, model, genai.Text(prompt), generateConfig())
		if err != nil {
			return "", err
		}
		return resp.Text(), nil
	}
	return g, nil
}

func newGemini(model string, generate func(context.Context, string) (string, error)) *Gemini {
	return &Gemini{
		model:    model,
		tracer:   otel.Tracer("github.com/stuartshay/arrival-alarm/internal/resolver"),
		generate: generate,
	}
}

// generateConfig constrains the model to a {lat, lng, description} object
func generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"lat":         {Type: genai.TypeNumber, Description: "Latitude of the location"},
				"lng":         {Type: genai.TypeNumber, Description: "Longitude of the location"},
				"description": {Type: genai.TypeString, Description: "Short description of the location"},
			},
			Required: []string{"lat", "lng", "description"},
		},
	}
}

func prompt(query string) string {
	return fmt.Sprintf(
		"Find the geographical coordinates (latitude and longitude) for the following location: %q. "+
			"Provide a short description (max 1 sentence).", query)
}

// Resolve looks up query. Every failure, including transport errors and
// unusable answers, is reported as ErrDestinationNotFound.
func (g *Gemini) Resolve(ctx context.Context, query string) (Destination, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Destination{}, fmt.Errorf("%w: empty query", ErrDestinationNotFound)
	}

	ctx, span := g.tracer.Start(ctx, "resolver.Resolve",
		trace.WithAttributes(
			attribute.String("resolver.query", query),
			attribute.String("resolver.model", g.model),
		))
	defer span.End()

	text, err := g.generate(ctx, prompt(query))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		log.Error().Err(err).Str("query", query).Msg("Destination lookup failed")
		return Destination{}, fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
	}

	dest, err := parseAnswer(query, text)
	if err != nil {
		span.SetStatus(codes.Error, "no match")
		log.Warn().Err(err).Str("query", query).Msg("Destination not found")
		return Destination{}, err
	}

	span.SetAttributes(
		attribute.Float64("resolver.lat", dest.Coordinate.Lat),
		attribute.Float64("resolver.lng", dest.Coordinate.Lng),
	)
	log.Info().
		Str("query", query).
		Float64("lat", dest.Coordinate.Lat).
		Float64("lng", dest.Coordinate.Lng).
		Msg("Destination resolved")

	return dest, nil
}

func parseAnswer(query, text string) (Destination, error) {
	if strings.TrimSpace(text) == "" {
		return Destination{}, fmt.Errorf("%w: empty answer", ErrDestinationNotFound)
	}

	var a answer
	if err := json.Unmarshal([]byte(text), &a); err != nil {
		return Destination{}, fmt.Errorf("%w: malformed answer: %w", ErrDestinationNotFound, err)
	}
	if a.Lat == nil || a.Lng == nil {
		return Destination{}, fmt.Errorf("%w: answer without coordinates", ErrDestinationNotFound)
	}

	coord := geo.Coordinate{Lat: *a.Lat, Lng: *a.Lng}
	if err := coord.Validate(); err != nil {
		return Destination{}, fmt.Errorf("%w: %w", ErrDestinationNotFound, err)
	}

	return Destination{
		Name:        query,
		Coordinate:  coord,
		Description: a.Description,
	}, nil
}
