package workout

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type Kind string

const (
	KindRunning Kind = "running"
	KindCycling Kind = "cycling"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindRunning:
		return KindRunning, nil
	case KindCycling:
		return KindCycling, nil
	}
	return "", fmt.Errorf("unknown workout kind %q", s)
}

// Label is the capitalised kind name used in popups.
func (k Kind) Label() string {
	switch k {
	case KindRunning:
		return "Running"
	case KindCycling:
		return "Cycling"
	}
	return string(k)
}

type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Workout is one recorded activity. Cadence and Pace are set for running,
// ElevationGain and Speed for cycling.
type Workout struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	Kind      Kind      `json:"kind"`
	Distance  float64   `json:"distance"`
	Duration  float64   `json:"duration"`
	Location  Location  `json:"location"`

	Cadence float64 `json:"cadence,omitempty"`
	Pace    float64 `json:"pace,omitempty"`

	ElevationGain float64 `json:"elevationGain,omitempty"`
	Speed         float64 `json:"speed,omitempty"`
}

// ValidationError reports the first form field that failed validation.
type ValidationError struct {
	Field string
	Value float64
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Value)
}

// NewRunning builds a running workout. Distance, duration and cadence must
// all be finite and positive.
func NewRunning(distance, duration float64, at Location, cadence float64) (Workout, error) {
	if err := positive("distance", distance); err != nil {
		return Workout{}, err
	}
	if err := positive("duration", duration); err != nil {
		return Workout{}, err
	}
	if err := positive("cadence", cadence); err != nil {
		return Workout{}, err
	}

	w := newWorkout(KindRunning, distance, duration, at, time.Now())
	w.Cadence = cadence
	w.Pace = derive(KindRunning, distance, duration)
	return w, nil
}

// NewCycling builds a cycling workout. Only distance and duration have to be
// positive; elevation gain just has to be finite.
func NewCycling(distance, duration float64, at Location, elevationGain float64) (Workout, error) {
	if err := positive("distance", distance); err != nil {
		return Workout{}, err
	}
	if err := positive("duration", duration); err != nil {
		return Workout{}, err
	}
	if !finite(elevationGain) {
		return Workout{}, &ValidationError{Field: "elevationGain", Value: elevationGain}
	}

	w := newWorkout(KindCycling, distance, duration, at, time.Now())
	w.ElevationGain = elevationGain
	w.Speed = derive(KindCycling, distance, duration)
	return w, nil
}

// Metric returns pace for running and speed for cycling.
func (w Workout) Metric() float64 {
	if w.Kind == KindRunning {
		return w.Pace
	}
	return w.Speed
}

// Detail returns cadence for running and elevation gain for cycling.
func (w Workout) Detail() float64 {
	if w.Kind == KindRunning {
		return w.Cadence
	}
	return w.ElevationGain
}

// ParseField converts a raw form value the way the page's number coercion
// does. Blank is 0 and anything that does not parse is NaN, so it fails the
// finiteness check. Unsigned 0x, 0o and 0b integers are accepted; hex floats
// and signed prefixed values are not.
func ParseField(raw string) float64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	if base := integerBase(raw); base != 0 {
		v, err := strconv.ParseUint(raw[2:], base, 64)
		if err != nil {
			return math.NaN()
		}
		return float64(v)
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

func integerBase(raw string) int {
	if len(raw) < 2 || raw[0] != '0' {
		return 0
	}
	switch raw[1] {
	case 'x', 'X':
		return 16
	case 'o', 'O':
		return 8
	case 'b', 'B':
		return 2
	}
	return 0
}

func newWorkout(kind Kind, distance, duration float64, at Location, now time.Time) Workout {
	return Workout{
		ID:        idFromTime(now),
		CreatedAt: now,
		Kind:      kind,
		Distance:  distance,
		Duration:  duration,
		Location:  at,
	}
}

func derive(kind Kind, distance, duration float64) float64 {
	switch kind {
	case KindRunning:
		return duration / distance
	case KindCycling:
		return distance / (duration / 60)
	}
	return 0
}

// idFromTime keeps the last 8 digits of the millisecond timestamp. Two
// workouts created in the same millisecond share an ID.
func idFromTime(t time.Time) string {
	ms := strconv.FormatInt(t.UnixMilli(), 10)
	if len(ms) > 8 {
		ms = ms[len(ms)-8:]
	}
	return ms
}

func positive(field string, v float64) error {
	if !finite(v) || v <= 0 {
		return &ValidationError{Field: field, Value: v}
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
