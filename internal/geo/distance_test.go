package geo

import (
	"errors"
	"math"
	"testing"
)

func TestDistanceMeters(t *testing.T) {
	tests := []struct {
		name      string
		a         Coordinate
		b         Coordinate
		expected  float64
		tolerance float64
	}{
		{
			name:      "Same location",
			a:         Coordinate{Lat: 4.6097, Lng: -74.0817},
			b:         Coordinate{Lat: 4.6097, Lng: -74.0817},
			expected:  0.0,
			tolerance: 0.001,
		},
		{
			name:      "New York to Jersey City (~3.3 km)",
			a:         Coordinate{Lat: 40.736097, Lng: -74.039373},
			b:         Coordinate{Lat: 40.728333, Lng: -74.077778},
			expected:  3350,
			tolerance: 500,
		},
		{
			name:      "New York to Boston (~306 km)",
			a:         Coordinate{Lat: 40.7128, Lng: -74.0060},
			b:         Coordinate{Lat: 42.3601, Lng: -71.0589},
			expected:  306000,
			tolerance: 5000,
		},
		{
			name:      "Equator crossing",
			a:         Coordinate{Lat: 1.0, Lng: 0.0},
			b:         Coordinate{Lat: -1.0, Lng: 0.0},
			expected:  222390,
			tolerance: 1000,
		},
		{
			name:      "Antipodal points",
			a:         Coordinate{Lat: 0, Lng: 0},
			b:         Coordinate{Lat: 0, Lng: 180},
			expected:  math.Pi * EarthRadiusMeters,
			tolerance: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := DistanceMeters(tt.a, tt.b)
			if math.Abs(result-tt.expected) > tt.tolerance {
				t.Errorf("DistanceMeters() = %.2f m, expected %.2f m (±%.2f m)", result, tt.expected, tt.tolerance)
			}
		})
	}
}

func TestDistanceMeters_Properties(t *testing.T) {
	points := []Coordinate{
		{Lat: 4.6097, Lng: -74.0817},
		{Lat: 4.6133, Lng: -74.0817},
		{Lat: -33.8688, Lng: 151.2093},
		{Lat: 89.9, Lng: 45},
		{Lat: -90, Lng: -180},
		{Lat: 0, Lng: 179.999},
	}

	for _, a := range points {
		if d := DistanceMeters(a, a); d != 0 {
			t.Errorf("DistanceMeters(%v, %v) = %f, expected 0", a, a, d)
		}
		for _, b := range points {
			ab := DistanceMeters(a, b)
			ba := DistanceMeters(b, a)
			if math.Abs(ab-ba) > 1e-6 {
				t.Errorf("asymmetric distance between %v and %v: %f vs %f", a, b, ab, ba)
			}
			if math.IsNaN(ab) || math.IsInf(ab, 0) {
				t.Errorf("DistanceMeters(%v, %v) is not finite", a, b)
			}
		}
	}
}

func TestDistanceMeters_Monotonic(t *testing.T) {
	origin := Coordinate{Lat: 4.6097, Lng: -74.0817}
	previous := 0.0
	for step := 1; step <= 50; step++ {
		d := DistanceMeters(origin, Coordinate{Lat: origin.Lat + float64(step)*0.001, Lng: origin.Lng})
		if d <= previous {
			t.Fatalf("distance did not grow at step %d: %f <= %f", step, d, previous)
		}
		previous = d
	}
}

func TestDistanceMeters_NaNPropagates(t *testing.T) {
	d := DistanceMeters(Coordinate{Lat: math.NaN(), Lng: 0}, Coordinate{Lat: 1, Lng: 1})
	if !math.IsNaN(d) {
		t.Errorf("expected NaN distance, got %f", d)
	}
}

func TestCoordinateValidate(t *testing.T) {
	tests := []struct {
		name    string
		coord   Coordinate
		wantErr bool
	}{
		{"valid", Coordinate{Lat: 4.6097, Lng: -74.0817}, false},
		{"poles and antimeridian", Coordinate{Lat: -90, Lng: 180}, false},
		{"latitude too high", Coordinate{Lat: 90.1, Lng: 0}, true},
		{"longitude too low", Coordinate{Lat: 0, Lng: -180.5}, true},
		{"NaN latitude", Coordinate{Lat: math.NaN(), Lng: 0}, true},
		{"infinite longitude", Coordinate{Lat: 0, Lng: math.Inf(1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.coord.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCoordinate) {
					t.Errorf("expected ErrInvalidCoordinate, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		meters   float64
		expected string
	}{
		{0, "0 m"},
		{599.6, "600 m"},
		{999.4, "999 m"},
		{1000, "1.00 km"},
		{1254, "1.25 km"},
	}

	for _, tt := range tests {
		if got := FormatDistance(tt.meters); got != tt.expected {
			t.Errorf("FormatDistance(%.1f) = %q, expected %q", tt.meters, got, tt.expected)
		}
	}
}

func TestDegreesToRadians(t *testing.T) {
	tests := []struct {
		degrees  float64
		expected float64
	}{
		{0, 0},
		{90, math.Pi / 2},
		{180, math.Pi},
		{-90, -math.Pi / 2},
	}

	for _, tt := range tests {
		result := degreesToRadians(tt.degrees)
		if math.Abs(result-tt.expected) > 0.0001 {
			t.Errorf("degreesToRadians(%.2f) = %.4f, expected %.4f", tt.degrees, result, tt.expected)
		}
	}
}

func BenchmarkDistanceMeters(b *testing.B) {
	a := Coordinate{Lat: 40.736097, Lng: -74.039373}
	c := Coordinate{Lat: 40.748817, Lng: -73.985428}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		DistanceMeters(a, c)
	}
}
