package app

import (
	"context"

	"github.com/briangreenhill/mapty/internal/workout"
)

// Position is the one-shot answer to a geolocation request.
type Position struct {
	Location workout.Location
	Err      error
}

type Geolocator interface {
	// RequestPosition delivers at most one Position. A channel closed
	// without a value counts as a failure.
	RequestPosition(ctx context.Context) <-chan Position
}

type ClickHandler func(ctx context.Context, at workout.Location) error

type KeyHandler func(ctx context.Context, key string) error

type KindHandler func(ctx context.Context) error

type MapView interface {
	CenterOn(at workout.Location, zoom int)
	OnUserClick(h ClickHandler)
	PlaceMarker(at workout.Location, popup, styleClass string)
}

// FormValues are the raw field contents of the workout form.
type FormValues struct {
	Kind      string `json:"kind"`
	Distance  string `json:"distance"`
	Duration  string `json:"duration"`
	Cadence   string `json:"cadence"`
	Elevation string `json:"elevation"`
}

type FormView interface {
	Values() FormValues
	Show()
	Hide()
	Clear()
	FocusFirstField()
	ToggleMetricFieldVisibility()
	OnKeyPress(h KeyHandler)
	OnKindChange(h KindHandler)
}

type ListView interface {
	AppendEntry(markup string)
}

type Alerter interface {
	Alert(message string)
}

// Views bundles the collaborators a Controller renders through.
type Views struct {
	Map    MapView
	Form   FormView
	List   ListView
	Alerts Alerter
}
