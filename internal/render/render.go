// Package render turns workouts into the text and markup shown on the map
// and in the workout list.
package render

import (
	"bytes"
	"fmt"
	"html/template"
	"strconv"
	"time"

	"github.com/briangreenhill/mapty/internal/workout"
)

const dateLayout = "January 2"

var entryTemplate = template.Must(template.New("entry").Parse(`<li class="workout workout--{{.Kind}}" data-id="{{.ID}}">
  <h2 class="workout__title">{{.Label}} on {{.Date}}</h2>
  <div class="workout__details"><span class="workout__icon">{{.Icon}}</span> <span class="workout__value">{{.Distance}}</span> <span class="workout__unit">km</span></div>
  <div class="workout__details"><span class="workout__icon">⏱</span> <span class="workout__value">{{.Duration}}</span> <span class="workout__unit">min</span></div>
  <div class="workout__details"><span class="workout__icon">⚡</span> <span class="workout__value">{{.Metric}}</span> <span class="workout__unit">{{.MetricUnit}}</span></div>
  <div class="workout__details"><span class="workout__icon">{{.DetailIcon}}</span> <span class="workout__value">{{.Detail}}</span> <span class="workout__unit">{{.DetailUnit}}</span></div>
</li>
`))

type entry struct {
	ID         string
	Kind       workout.Kind
	Label      string
	Date       string
	Icon       string
	Distance   string
	Duration   string
	Metric     string
	MetricUnit string
	DetailIcon string
	Detail     string
	DetailUnit string
}

func FormatDate(t time.Time) string {
	return t.Format(dateLayout)
}

func Icon(k workout.Kind) string {
	if k == workout.KindRunning {
		return "🏃‍♂️"
	}
	return "🚴‍♀️"
}

// StyleClass is the marker popup class for a workout kind.
func StyleClass(k workout.Kind) string {
	if k == workout.KindRunning {
		return "running-green"
	}
	return "cycling-orange"
}

// Popup is the marker popup text, e.g. "🏃‍♂️ Running on October 15".
func Popup(w workout.Workout) string {
	return fmt.Sprintf("%s %s on %s", Icon(w.Kind), w.Kind.Label(), FormatDate(w.CreatedAt))
}

// Entry renders the list item for a workout.
func Entry(w workout.Workout) (string, error) {
	e := entry{
		ID:       w.ID,
		Kind:     w.Kind,
		Label:    w.Kind.Label(),
		Date:     FormatDate(w.CreatedAt),
		Icon:     Icon(w.Kind),
		Distance: number(w.Distance),
		Duration: number(w.Duration),
		Metric:   strconv.FormatFloat(w.Metric(), 'f', 1, 64),
		Detail:   number(w.Detail()),
	}
	if w.Kind == workout.KindRunning {
		e.MetricUnit, e.DetailIcon, e.DetailUnit = "min/km", "🦶🏼", "spm"
	} else {
		e.MetricUnit, e.DetailIcon, e.DetailUnit = "km/h", "⛰", "m"
	}

	var buf bytes.Buffer
	if err := entryTemplate.Execute(&buf, e); err != nil {
		return "", fmt.Errorf("rendering workout %s: %w", w.ID, err)
	}
	return buf.String(), nil
}

func number(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
