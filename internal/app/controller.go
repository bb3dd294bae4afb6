// Package app holds the interaction controller that turns map clicks and
// form key presses into recorded workouts.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/briangreenhill/mapty/internal/observability"
	"github.com/briangreenhill/mapty/internal/render"
	"github.com/briangreenhill/mapty/internal/workout"
)

const (
	SubmitKey = "Enter"
	CancelKey = "Escape"

	DefaultZoom = 13

	MsgInvalidInputs       = "Inputs have to be positive number"
	MsgLocationUnavailable = "sorry we cannot get your location"
)

var (
	// ErrLocationUnavailable means the geolocation request failed or was denied.
	ErrLocationUnavailable = errors.New("location unavailable")
	// ErrStopped is returned by Dispatch once Run has returned.
	ErrStopped = errors.New("controller stopped")
)

type State int

const (
	StateIdle State = iota
	StateAwaitingSubmission
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingSubmission:
		return "awaiting_submission"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Event interface {
	event()
}

type MapClick struct {
	At workout.Location
}

type KindChanged struct{}

type KeyPress struct {
	Key string
}

func (MapClick) event()    {}
func (KindChanged) event() {}
func (KeyPress) event()    {}

// Status is a point-in-time view of the controller.
type Status struct {
	State       State
	Pending     *workout.Location
	MapLoaded   bool
	Workouts    int
	LocationErr error
}

type op struct {
	fn   func() error
	errc chan error
}

// Controller is the per-session state machine. All of its state is owned by
// the goroutine running Run; everything else reaches it through Dispatch.
type Controller struct {
	logger *slog.Logger
	views  Views
	geo    Geolocator
	store  workout.Store
	zoom   int

	ops       chan op
	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}

	state     State
	pending   *workout.Location
	mapLoaded bool
	locErr    error
}

func New(logger *slog.Logger, views Views, geo Geolocator, store workout.Store, zoom int) *Controller {
	if zoom <= 0 {
		zoom = DefaultZoom
	}
	return &Controller{
		logger: logger,
		views:  views,
		geo:    geo,
		store:  store,
		zoom:   zoom,
		ops:    make(chan op),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Ready is closed once the geolocation result has been handled, whether the
// map loaded or not, or once Run has returned.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Run registers the form handlers, requests the position once and then
// serves events until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	defer c.markReady()

	c.views.Form.OnKeyPress(func(ctx context.Context, key string) error {
		return c.Dispatch(ctx, KeyPress{Key: key})
	})
	c.views.Form.OnKindChange(func(ctx context.Context) error {
		return c.Dispatch(ctx, KindChanged{})
	})

	positions := c.geo.RequestPosition(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-positions:
			positions = nil
			if !ok {
				p = Position{Err: ErrLocationUnavailable}
			}
			c.loadMap(p)
		case o := <-c.ops:
			o.errc <- o.fn()
		}
	}
}

// Dispatch hands ev to the Run goroutine and waits for it to be handled.
func (c *Controller) Dispatch(ctx context.Context, ev Event) error {
	return c.do(ctx, func() error {
		return c.handle(ctx, ev)
	})
}

func (c *Controller) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, func() error {
		n, err := c.store.Len(ctx)
		if err != nil {
			return err
		}
		st = Status{
			State:       c.state,
			MapLoaded:   c.mapLoaded,
			Workouts:    n,
			LocationErr: c.locErr,
		}
		if c.pending != nil {
			at := *c.pending
			st.Pending = &at
		}
		return nil
	})
	return st, err
}

func (c *Controller) do(ctx context.Context, fn func() error) error {
	o := op{fn: fn, errc: make(chan error, 1)}
	select {
	case c.ops <- o:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case err := <-o.errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		select {
		case err := <-o.errc:
			return err
		default:
			return ErrStopped
		}
	}
}

func (c *Controller) markReady() {
	c.readyOnce.Do(func() { close(c.ready) })
}

func (c *Controller) loadMap(p Position) {
	defer c.markReady()

	if p.Err != nil {
		c.locErr = p.Err
		if !errors.Is(p.Err, ErrLocationUnavailable) {
			c.locErr = fmt.Errorf("%w: %w", ErrLocationUnavailable, p.Err)
		}
		c.logger.Warn("Location unavailable", slog.Any("error", p.Err))
		observability.RecordLocationFailure()
		c.views.Alerts.Alert(MsgLocationUnavailable)
		return
	}

	c.views.Map.CenterOn(p.Location, c.zoom)
	c.views.Map.OnUserClick(func(ctx context.Context, at workout.Location) error {
		return c.Dispatch(ctx, MapClick{At: at})
	})
	c.mapLoaded = true
	c.logger.Info("Map loaded",
		slog.Float64("latitude", p.Location.Latitude),
		slog.Float64("longitude", p.Location.Longitude))
}

func (c *Controller) handle(ctx context.Context, ev Event) error {
	switch ev := ev.(type) {
	case MapClick:
		c.showForm(ev.At)
	case KindChanged:
		c.views.Form.ToggleMetricFieldVisibility()
	case KeyPress:
		switch ev.Key {
		case SubmitKey:
			return c.submit(ctx)
		case CancelKey:
			c.cancel()
		}
	default:
		return fmt.Errorf("unsupported event %T", ev)
	}
	return nil
}

func (c *Controller) showForm(at workout.Location) {
	if !c.mapLoaded {
		c.logger.Debug("Ignoring click before map is loaded")
		return
	}

	c.pending = &at
	c.state = StateAwaitingSubmission
	c.views.Form.Show()
	c.views.Form.FocusFirstField()
}

func (c *Controller) cancel() {
	if c.state != StateAwaitingSubmission {
		return
	}

	c.views.Form.Clear()
	c.views.Form.Hide()
	c.pending = nil
	c.state = StateIdle
}

func (c *Controller) submit(ctx context.Context) error {
	// Without a pending click there is no location to record against.
	if c.state != StateAwaitingSubmission || c.pending == nil {
		c.logger.Debug("Ignoring submit with no pending location")
		return nil
	}

	values := c.views.Form.Values()
	kind, err := workout.ParseKind(values.Kind)
	if err != nil {
		c.logger.Warn("Ignoring submit", slog.Any("error", err))
		return nil
	}

	w, err := build(kind, values, *c.pending)
	var verr *workout.ValidationError
	if errors.As(err, &verr) {
		c.logger.Info("Rejected workout", slog.String("kind", string(kind)), slog.String("field", verr.Field))
		observability.RecordValidationFailure(string(kind))
		c.views.Alerts.Alert(MsgInvalidInputs)
		return nil
	}
	if err != nil {
		return err
	}

	entry, err := render.Entry(w)
	if err != nil {
		return err
	}

	if err := c.store.Append(ctx, w); err != nil {
		return fmt.Errorf("recording workout: %w", err)
	}
	observability.RecordWorkout(string(w.Kind))

	c.views.Map.PlaceMarker(w.Location, render.Popup(w), render.StyleClass(w.Kind))
	c.views.Form.Clear()
	c.views.Form.Hide()
	c.views.List.AppendEntry(entry)

	c.pending = nil
	c.state = StateIdle
	c.logger.Info("Workout recorded", slog.String("id", w.ID), slog.String("kind", string(w.Kind)))
	return nil
}

func build(kind workout.Kind, v FormValues, at workout.Location) (workout.Workout, error) {
	distance := workout.ParseField(v.Distance)
	duration := workout.ParseField(v.Duration)

	switch kind {
	case workout.KindRunning:
		return workout.NewRunning(distance, duration, at, workout.ParseField(v.Cadence))
	case workout.KindCycling:
		return workout.NewCycling(distance, duration, at, workout.ParseField(v.Elevation))
	}
	return workout.Workout{}, fmt.Errorf("unknown workout kind %q", kind)
}
