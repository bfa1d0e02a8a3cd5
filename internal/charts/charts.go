// Package charts produces the sample chart data served by /api/chart-data and
// drawn by the terminal client.
package charts

import (
	"bytes"
	"context"
	"encoding/json"
	"math/rand/v2"
	"strings"
	"sync"
	"time"
)

// Chart colours shared by every sample dataset.
const (
	BorderColor     = "#2ecc71"
	BackgroundColor = "rgba(46, 204, 113, 0.2)"
)

// Request defaults.
const (
	DefaultPeriod = "30d"
	DefaultMetric = "usage"
)

// DemoTypes are the chart types the demo generator picks from.
var DemoTypes = []string{"line", "bar", "pie", "doughnut", "radar"}

var metricLabels = map[string]string{
	"usage":         "Uso (%)",
	"performance":   "Rendimiento (%)",
	"errors":        "Errores",
	"requests":      "Solicitudes",
	"response_time": "Tiempo de Respuesta (ms)",
}

// Request selects a dataset.
type Request struct {
	Type   string
	Period string
	Metric string
}

// WithDefaults fills an empty period or metric.
func (r Request) WithDefaults() Request {
	if r.Period == "" {
		r.Period = DefaultPeriod
	}
	if r.Metric == "" {
		r.Metric = DefaultMetric
	}
	return r
}

// Data is a chart body: one label per point and one or more series.
type Data struct {
	Labels   []string  `json:"labels"`
	Datasets []Dataset `json:"datasets"`
}

// Dataset is one series.
type Dataset struct {
	Label           string   `json:"label,omitempty"`
	Data            []int    `json:"data"`
	BorderColor     string   `json:"borderColor,omitempty"`
	BackgroundColor Colors   `json:"backgroundColor,omitempty"`
	Tension         *float64 `json:"tension,omitempty"`
}

// Config is a complete chart: its type and data.
type Config struct {
	Type string `json:"type"`
	Data Data   `json:"data"`
}

// Colors is a single colour or one colour per point. A single colour is
// encoded as a JSON string.
type Colors []string

// MarshalJSON implements json.Marshaler.
func (c Colors) MarshalJSON() ([]byte, error) {
	if len(c) == 1 {
		return json.Marshal(c[0])
	}
	return json.Marshal([]string(c))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Colors) UnmarshalJSON(data []byte) error {
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte(`"`)) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = Colors{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*c = list
	return nil
}

// Source provides chart data.
type Source interface {
	// Dataset returns the series for a metric over a period.
	Dataset(ctx context.Context, req Request) (*Data, error)
	// Demo returns a fixed demo chart of the given type. An empty type picks
	// one of DemoTypes at random.
	Demo(chartType string) Config
}

// Days converts a period to a number of days: 7d and 30d are honoured,
// anything else means 90.
func Days(period string) int {
	switch period {
	case "7d":
		return 7
	case "30d":
		return 30
	default:
		return 90
	}
}

// MetricLabel returns the display label of a metric.
func MetricLabel(metric string) string {
	if l, ok := metricLabels[metric]; ok {
		return l
	}
	return "Métrica"
}

// valueRange returns the inclusive range of sample values for metric.
func valueRange(metric string) (lo, hi int) {
	switch metric {
	case "usage":
		return 20, 119
	case "performance":
		return 60, 99
	case "errors":
		return 0, 9
	default:
		return 10, 59
	}
}

// SampleSource generates random sample data. It is safe for concurrent use.
type SampleSource struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

var _ Source = (*SampleSource)(nil)

// NewSampleSource creates a SampleSource. A nil rng is seeded randomly.
func NewSampleSource(rng *rand.Rand) *SampleSource {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &SampleSource{rng: rng, now: time.Now}
}

// WithClock sets the clock used for day labels.
func (s *SampleSource) WithClock(now func() time.Time) *SampleSource {
	s.now = now
	return s
}

func (s *SampleSource) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Dataset implements Source. Labels are the last N days ending today.
func (s *SampleSource) Dataset(_ context.Context, req Request) (*Data, error) {
	req = req.WithDefaults()
	days := Days(req.Period)
	today := s.now()

	labels := make([]string, 0, days)
	for i := days - 1; i >= 0; i-- {
		labels = append(labels, today.AddDate(0, 0, -i).Format("Jan 2"))
	}

	lo, hi := valueRange(req.Metric)
	values := make([]int, days)
	for i := range values {
		values[i] = lo + s.intN(hi-lo+1)
	}

	tension := 0.0
	if req.Type == "line" {
		tension = 0.1
	}

	return &Data{
		Labels: labels,
		Datasets: []Dataset{{
			Label:           MetricLabel(req.Metric),
			Data:            values,
			BorderColor:     BorderColor,
			BackgroundColor: Colors{BackgroundColor},
			Tension:         &tension,
		}},
	}, nil
}

// Demo implements Source.
func (s *SampleSource) Demo(chartType string) Config {
	chartType = strings.ToLower(strings.TrimSpace(chartType))
	if chartType == "" {
		chartType = DemoTypes[s.intN(len(DemoTypes))]
	}

	switch chartType {
	case "pie", "doughnut":
		return Config{
			Type: chartType,
			Data: Data{
				Labels: []string{"Desktop", "Mobile", "Tablet"},
				Datasets: []Dataset{{
					Data:            []int{45, 35, 20},
					BackgroundColor: Colors{"#2ecc71", "#3498db", "#f39c12"},
				}},
			},
		}
	case "radar":
		return Config{
			Type: chartType,
			Data: Data{
				Labels: []string{"Ventas", "Marketing", "Desarrollo", "Soporte", "Administración"},
				Datasets: []Dataset{{
					Label:           "Equipo A",
					Data:            []int{65, 59, 90, 81, 56},
					BorderColor:     BorderColor,
					BackgroundColor: Colors{BackgroundColor},
				}},
			},
		}
	default:
		tension := 0.1
		return Config{
			Type: chartType,
			Data: Data{
				Labels: []string{"Enero", "Febrero", "Marzo", "Abril", "Mayo", "Junio"},
				Datasets: []Dataset{{
					Label:           "Ventas",
					Data:            []int{12, 19, 3, 5, 2, 3},
					BorderColor:     BorderColor,
					BackgroundColor: Colors{BackgroundColor},
					Tension:         &tension,
				}},
			},
		}
	}
}
