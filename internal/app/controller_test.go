package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/briangreenhill/mapty/internal/workout"
)

type marker struct {
	at    workout.Location
	popup string
	class string
}

type fakeViews struct {
	mu sync.Mutex

	centeredOn *workout.Location
	zoom       int
	onClick    ClickHandler
	markers    []marker

	values   FormValues
	visible  bool
	focused  bool
	toggles  int
	onKey    KeyHandler
	onKind   KindHandler
	entries  []string
	alerts   []string
	clearing int
}

func (f *fakeViews) CenterOn(at workout.Location, zoom int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.centeredOn, f.zoom = &at, zoom
}

func (f *fakeViews) OnUserClick(h ClickHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onClick = h
}

func (f *fakeViews) PlaceMarker(at workout.Location, popup, class string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markers = append(f.markers, marker{at: at, popup: popup, class: class})
}

func (f *fakeViews) Values() FormValues {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values
}

func (f *fakeViews) Show() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible = true
}

func (f *fakeViews) Hide() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.visible, f.focused = false, false
}

func (f *fakeViews) Clear() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearing++
	f.values = FormValues{Kind: f.values.Kind}
}

func (f *fakeViews) FocusFirstField() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.focused = true
}

func (f *fakeViews) ToggleMetricFieldVisibility() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles++
}

func (f *fakeViews) OnKeyPress(h KeyHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onKey = h
}

func (f *fakeViews) OnKindChange(h KindHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onKind = h
}

func (f *fakeViews) AppendEntry(markup string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, markup)
}

func (f *fakeViews) Alert(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, message)
}

func (f *fakeViews) fill(v FormValues) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = v
}

func (f *fakeViews) click(t *testing.T, at workout.Location) {
	t.Helper()
	f.mu.Lock()
	h := f.onClick
	f.mu.Unlock()
	require.NotNil(t, h, "map click handler not registered")
	require.NoError(t, h(context.Background(), at))
}

func (f *fakeViews) press(t *testing.T, key string) {
	t.Helper()
	f.mu.Lock()
	h := f.onKey
	f.mu.Unlock()
	require.NotNil(t, h, "key handler not registered")
	require.NoError(t, h(context.Background(), key))
}

type fixedGeolocator struct {
	pos Position
}

func (g fixedGeolocator) RequestPosition(context.Context) <-chan Position {
	ch := make(chan Position, 1)
	ch <- g.pos
	return ch
}

var home = workout.Location{Latitude: 38.72, Longitude: -9.14}

func startController(t *testing.T, geo Geolocator) (*Controller, *fakeViews, workout.Store) {
	t.Helper()
	views := &fakeViews{}
	store := workout.NewMemoryStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(logger, Views{Map: views, Form: views, List: views, Alerts: views}, geo, store, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-c.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("controller never became ready")
	}
	return c, views, store
}

func status(t *testing.T, c *Controller) Status {
	t.Helper()
	st, err := c.Status(context.Background())
	require.NoError(t, err)
	return st
}

func TestControllerLoadsMapAtPosition(t *testing.T) {
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})

	st := status(t, c)
	assert.True(t, st.MapLoaded)
	assert.Equal(t, StateIdle, st.State)
	require.NotNil(t, views.centeredOn)
	assert.Equal(t, home, *views.centeredOn)
	assert.Equal(t, DefaultZoom, views.zoom)
	assert.NotNil(t, views.onClick)
	assert.Empty(t, views.alerts)
}

func TestControllerRecordsRunning(t *testing.T) {
	c, views, store := startController(t, fixedGeolocator{pos: Position{Location: home}})

	at := workout.Location{Latitude: 39, Longitude: -12}
	views.click(t, at)

	st := status(t, c)
	assert.Equal(t, StateAwaitingSubmission, st.State)
	require.NotNil(t, st.Pending)
	assert.Equal(t, at, *st.Pending)
	assert.True(t, views.visible)
	assert.True(t, views.focused)

	views.fill(FormValues{Kind: "running", Distance: "5.2", Duration: "24", Cadence: "178"})
	views.press(t, SubmitKey)

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, workout.KindRunning, got[0].Kind)
	assert.InDelta(t, 4.615, got[0].Pace, 0.001)
	assert.Equal(t, at, got[0].Location)

	st = status(t, c)
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.Pending)
	assert.Equal(t, 1, st.Workouts)

	assert.False(t, views.visible)
	assert.Equal(t, 1, views.clearing)
	assert.Equal(t, FormValues{Kind: "running"}, views.values)
	require.Len(t, views.markers, 1)
	assert.Equal(t, at, views.markers[0].at)
	assert.Equal(t, "running-green", views.markers[0].class)
	assert.Contains(t, views.markers[0].popup, "Running on")
	require.Len(t, views.entries, 1)
	assert.Contains(t, views.entries[0], "workout--running")
	assert.Empty(t, views.alerts)
}

func TestControllerRecordsCycling(t *testing.T) {
	c, views, store := startController(t, fixedGeolocator{pos: Position{Location: home}})

	views.click(t, workout.Location{Latitude: 39, Longitude: -12})
	views.fill(FormValues{Kind: "cycling", Distance: "27", Duration: "95", Elevation: "523"})
	views.press(t, SubmitKey)

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, workout.KindCycling, got[0].Kind)
	assert.InDelta(t, 17.05, got[0].Speed, 0.01)
	assert.Equal(t, 523.0, got[0].ElevationGain)
	assert.Equal(t, 1, status(t, c).Workouts)
	assert.Equal(t, "cycling-orange", views.markers[0].class)
}

func TestControllerRejectsInvalidInputs(t *testing.T) {
	c, views, store := startController(t, fixedGeolocator{pos: Position{Location: home}})

	views.click(t, workout.Location{Latitude: 39, Longitude: -12})
	filled := FormValues{Kind: "running", Distance: "-5", Duration: "24", Cadence: "178"}
	views.fill(filled)
	views.press(t, SubmitKey)

	n, err := store.Len(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{MsgInvalidInputs}, views.alerts)
	assert.True(t, views.visible)
	assert.Equal(t, filled, views.values)
	assert.Zero(t, views.clearing)
	assert.Empty(t, views.markers)
	assert.Empty(t, views.entries)
	assert.Equal(t, StateAwaitingSubmission, status(t, c).State)
}

func TestControllerRejectsNonFiniteAndBlankFields(t *testing.T) {
	cases := []FormValues{
		{Kind: "running", Distance: "abc", Duration: "24", Cadence: "178"},
		{Kind: "running", Distance: "5", Duration: "24", Cadence: ""},
		{Kind: "cycling", Distance: "27", Duration: "0", Elevation: "10"},
		{Kind: "cycling", Distance: "27", Duration: "95", Elevation: "lots"},
	}

	for _, values := range cases {
		c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})
		views.click(t, home)
		views.fill(values)
		views.press(t, SubmitKey)

		assert.Zero(t, status(t, c).Workouts, "%+v", values)
		assert.Equal(t, []string{MsgInvalidInputs}, views.alerts, "%+v", values)
	}
}

// Cycling never checks the sign of elevation gain.
func TestControllerAcceptsNegativeElevation(t *testing.T) {
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})

	views.click(t, home)
	views.fill(FormValues{Kind: "cycling", Distance: "27", Duration: "95", Elevation: "-20"})
	views.press(t, SubmitKey)

	assert.Equal(t, 1, status(t, c).Workouts)
	assert.Empty(t, views.alerts)
}

func TestControllerSubmitWhileIdleIsNoop(t *testing.T) {
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})

	views.fill(FormValues{Kind: "running", Distance: "5", Duration: "24", Cadence: "178"})
	views.press(t, SubmitKey)
	require.NoError(t, c.Dispatch(context.Background(), KeyPress{Key: SubmitKey}))

	st := status(t, c)
	assert.Equal(t, StateIdle, st.State)
	assert.Zero(t, st.Workouts)
	assert.Empty(t, views.alerts)
	assert.Empty(t, views.markers)
}

func TestControllerIgnoresOtherKeys(t *testing.T) {
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})

	views.click(t, home)
	views.fill(FormValues{Kind: "running", Distance: "5", Duration: "24", Cadence: "178"})
	views.press(t, "a")
	views.press(t, "Tab")

	st := status(t, c)
	assert.Equal(t, StateAwaitingSubmission, st.State)
	assert.Zero(t, st.Workouts)
}

func TestControllerCancel(t *testing.T) {
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})

	views.click(t, home)
	views.fill(FormValues{Kind: "running", Distance: "5"})
	views.press(t, CancelKey)

	st := status(t, c)
	assert.Equal(t, StateIdle, st.State)
	assert.Nil(t, st.Pending)
	assert.False(t, views.visible)
	assert.Equal(t, 1, views.clearing)

	views.press(t, SubmitKey)
	assert.Zero(t, status(t, c).Workouts)
}

func TestControllerSecondClickMovesPendingLocation(t *testing.T) {
	c, views, store := startController(t, fixedGeolocator{pos: Position{Location: home}})

	first := workout.Location{Latitude: 1, Longitude: 1}
	second := workout.Location{Latitude: 2, Longitude: 2}
	views.click(t, first)
	views.click(t, second)

	st := status(t, c)
	require.NotNil(t, st.Pending)
	assert.Equal(t, second, *st.Pending)

	views.fill(FormValues{Kind: "running", Distance: "5", Duration: "24", Cadence: "178"})
	views.press(t, SubmitKey)

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, second, got[0].Location)
}

func TestControllerToggleKeepsState(t *testing.T) {
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Location: home}})

	require.NoError(t, views.onKind(context.Background()))
	assert.Equal(t, StateIdle, status(t, c).State)

	views.click(t, home)
	require.NoError(t, views.onKind(context.Background()))
	assert.Equal(t, StateAwaitingSubmission, status(t, c).State)
	assert.Equal(t, 2, views.toggles)
}

func TestControllerAppendsInOrder(t *testing.T) {
	c, views, store := startController(t, fixedGeolocator{pos: Position{Location: home}})

	const n = 6
	for i := 0; i < n; i++ {
		views.click(t, workout.Location{Latitude: float64(i), Longitude: 0})
		views.fill(FormValues{Kind: "cycling", Distance: "10", Duration: "30", Elevation: "0"})
		views.press(t, SubmitKey)
	}

	got, err := store.List(context.Background())
	require.NoError(t, err)
	require.Len(t, got, n)
	for i, w := range got {
		assert.Equal(t, float64(i), w.Location.Latitude)
	}
	assert.Equal(t, n, status(t, c).Workouts)
	assert.Len(t, views.entries, n)
}

func TestControllerLocationFailure(t *testing.T) {
	denied := errors.New("user denied geolocation")
	c, views, _ := startController(t, fixedGeolocator{pos: Position{Err: denied}})

	st := status(t, c)
	assert.False(t, st.MapLoaded)
	assert.ErrorIs(t, st.LocationErr, ErrLocationUnavailable)
	assert.ErrorIs(t, st.LocationErr, denied)
	assert.Equal(t, []string{MsgLocationUnavailable}, views.alerts)
	assert.Nil(t, views.onClick)
	assert.Nil(t, views.centeredOn)

	// a click that still arrives is dropped
	require.NoError(t, c.Dispatch(context.Background(), MapClick{At: home}))
	assert.Equal(t, StateIdle, status(t, c).State)
	assert.False(t, views.visible)
}

type closedGeolocator struct{}

func (closedGeolocator) RequestPosition(context.Context) <-chan Position {
	ch := make(chan Position)
	close(ch)
	return ch
}

func TestControllerClosedPositionChannel(t *testing.T) {
	c, views, _ := startController(t, closedGeolocator{})

	assert.ErrorIs(t, status(t, c).LocationErr, ErrLocationUnavailable)
	assert.Equal(t, []string{MsgLocationUnavailable}, views.alerts)
}

func TestDispatchAfterStop(t *testing.T) {
	views := &fakeViews{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(logger, Views{Map: views, Form: views, List: views, Alerts: views},
		fixedGeolocator{pos: Position{Location: home}}, workout.NewMemoryStore(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	<-c.Ready()
	cancel()
	require.NoError(t, <-done)

	err := c.Dispatch(context.Background(), KeyPress{Key: SubmitKey})
	assert.ErrorIs(t, err, ErrStopped)
}

type silentGeolocator struct{}

func (silentGeolocator) RequestPosition(context.Context) <-chan Position {
	return make(chan Position)
}

func TestReadyClosesWhenStoppedBeforePosition(t *testing.T) {
	views := &fakeViews{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(logger, Views{Map: views, Form: views, List: views, Alerts: views},
		silentGeolocator{}, workout.NewMemoryStore(), 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-c.Ready():
		t.Fatal("ready before any position arrived")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	require.NoError(t, <-done)

	select {
	case <-c.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("ready never closed after Run returned")
	}
	assert.Empty(t, views.alerts)
}
