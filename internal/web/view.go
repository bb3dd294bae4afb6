package web

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tkrajina/gpxgo/gpx"

	"github.com/briangreenhill/mapty/internal/app"
	"github.com/briangreenhill/mapty/internal/workout"
)

// Operations the browser applies, in the order they were queued.
const (
	OpMapCenter  = "map.center"
	OpMapMarker  = "map.marker"
	OpFormShow   = "form.show"
	OpFormHide   = "form.hide"
	OpFormClear  = "form.clear"
	OpFormFocus  = "form.focus"
	OpFormToggle = "form.toggle"
	OpListAppend = "list.append"
	OpAlert      = "alert"
)

type Command struct {
	Op       string            `json:"op"`
	Location *workout.Location `json:"location,omitempty"`
	Zoom     int               `json:"zoom,omitempty"`
	Text     string            `json:"text,omitempty"`
	Class    string            `json:"class,omitempty"`
}

var errAlreadyResolved = errors.New("position already reported")

// browserView stands in for the page's map, form, list and alert dialog.
// Calls from the controller are queued as commands for the next response.
type browserView struct {
	mu       sync.Mutex
	commands []Command
	form     app.FormValues
	markers  *gpx.GPX

	onClick app.ClickHandler
	onKey   app.KeyHandler
	onKind  app.KindHandler
}

func newBrowserView(sessionID string) *browserView {
	return &browserView{
		markers: &gpx.GPX{
			Creator: "mapty",
			Name:    fmt.Sprintf("mapty session %s", sessionID),
		},
	}
}

func (v *browserView) push(c Command) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commands = append(v.commands, c)
}

// drain returns and forgets the queued commands.
func (v *browserView) drain() []Command {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.commands
	v.commands = nil
	if out == nil {
		out = []Command{}
	}
	return out
}

func (v *browserView) CenterOn(at workout.Location, zoom int) {
	v.push(Command{Op: OpMapCenter, Location: &at, Zoom: zoom})
}

func (v *browserView) OnUserClick(h app.ClickHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onClick = h
}

func (v *browserView) PlaceMarker(at workout.Location, popup, styleClass string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.commands = append(v.commands, Command{Op: OpMapMarker, Location: &at, Text: popup, Class: styleClass})
	v.markers.Waypoints = append(v.markers.Waypoints, gpx.GPXPoint{
		Point: gpx.Point{
			Latitude:  at.Latitude,
			Longitude: at.Longitude,
		},
		Timestamp: time.Now().UTC(),
		Name:      popup,
		Type:      styleClass,
	})
}

func (v *browserView) Values() app.FormValues {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.form
}

func (v *browserView) setValues(f app.FormValues) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.form = f
}

func (v *browserView) Show() { v.push(Command{Op: OpFormShow}) }

func (v *browserView) Hide() { v.push(Command{Op: OpFormHide}) }

func (v *browserView) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.form = app.FormValues{Kind: v.form.Kind}
	v.commands = append(v.commands, Command{Op: OpFormClear})
}

func (v *browserView) FocusFirstField() { v.push(Command{Op: OpFormFocus}) }

func (v *browserView) ToggleMetricFieldVisibility() { v.push(Command{Op: OpFormToggle}) }

func (v *browserView) OnKeyPress(h app.KeyHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onKey = h
}

func (v *browserView) OnKindChange(h app.KindHandler) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onKind = h
}

func (v *browserView) AppendEntry(markup string) {
	v.push(Command{Op: OpListAppend, Text: markup})
}

func (v *browserView) Alert(message string) {
	v.push(Command{Op: OpAlert, Text: message})
}

func (v *browserView) clickHandler() app.ClickHandler {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.onClick
}

func (v *browserView) keyHandler() app.KeyHandler {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.onKey
}

func (v *browserView) kindHandler() app.KindHandler {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.onKind
}

// markersGPX renders the placed markers as GPX waypoints.
func (v *browserView) markersGPX() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.markers.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

// browserGeolocator is resolved by the page reporting its position.
type browserGeolocator struct {
	mu       sync.Mutex
	ch       chan app.Position
	resolved bool
}

func newBrowserGeolocator() *browserGeolocator {
	return &browserGeolocator{ch: make(chan app.Position, 1)}
}

func (g *browserGeolocator) RequestPosition(context.Context) <-chan app.Position {
	return g.ch
}

func (g *browserGeolocator) resolve(p app.Position) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.resolved {
		return errAlreadyResolved
	}
	g.resolved = true
	g.ch <- p
	return nil
}
