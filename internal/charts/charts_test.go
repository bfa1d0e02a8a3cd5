package charts

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedClock() time.Time {
	return time.Date(2025, time.March, 3, 12, 0, 0, 0, time.UTC)
}

func newTestSource() *SampleSource {
	return NewSampleSource(rand.New(rand.NewPCG(1, 2))).WithClock(fixedClock)
}

func TestDays(t *testing.T) {
	tests := []struct {
		period string
		want   int
	}{
		{"7d", 7},
		{"30d", 30},
		{"90d", 90},
		{"1y", 90},
		{"", 90},
	}
	for _, tt := range tests {
		t.Run(tt.period, func(t *testing.T) {
			assert.Equal(t, tt.want, Days(tt.period))
		})
	}
}

func TestDatasetRanges(t *testing.T) {
	tests := []struct {
		metric string
		label  string
		lo, hi int
	}{
		{"usage", "Uso (%)", 20, 119},
		{"performance", "Rendimiento (%)", 60, 99},
		{"errors", "Errores", 0, 9},
		{"requests", "Solicitudes", 10, 59},
		{"response_time", "Tiempo de Respuesta (ms)", 10, 59},
		{"latency", "Métrica", 10, 59},
	}
	src := newTestSource()
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			data, err := src.Dataset(context.Background(), Request{Type: "bar", Period: "90d", Metric: tt.metric})
			require.NoError(t, err)
			require.Len(t, data.Datasets, 1)

			ds := data.Datasets[0]
			assert.Equal(t, tt.label, ds.Label)
			assert.Len(t, ds.Data, 90)
			for _, v := range ds.Data {
				assert.GreaterOrEqual(t, v, tt.lo)
				assert.LessOrEqual(t, v, tt.hi)
			}
		})
	}
}

func TestDatasetLabelsAndStyle(t *testing.T) {
	src := newTestSource()

	data, err := src.Dataset(context.Background(), Request{Type: "line", Period: "7d", Metric: "errors"})
	require.NoError(t, err)

	assert.Equal(t, []string{"Feb 25", "Feb 26", "Feb 27", "Feb 28", "Mar 1", "Mar 2", "Mar 3"}, data.Labels)
	ds := data.Datasets[0]
	assert.Equal(t, BorderColor, ds.BorderColor)
	assert.Equal(t, Colors{BackgroundColor}, ds.BackgroundColor)
	require.NotNil(t, ds.Tension)
	assert.InDelta(t, 0.1, *ds.Tension, 1e-9)

	data, err = src.Dataset(context.Background(), Request{Type: "bar"})
	require.NoError(t, err)
	assert.Len(t, data.Labels, 30, "default period is 30d")
	assert.Equal(t, "Uso (%)", data.Datasets[0].Label, "default metric is usage")
	assert.Zero(t, *data.Datasets[0].Tension)
}

func TestDemo(t *testing.T) {
	src := newTestSource()

	pie := src.Demo("pie")
	assert.Equal(t, "pie", pie.Type)
	assert.Equal(t, []string{"Desktop", "Mobile", "Tablet"}, pie.Data.Labels)
	assert.Len(t, pie.Data.Datasets[0].BackgroundColor, 3)

	radar := src.Demo("Radar")
	assert.Equal(t, "radar", radar.Type)
	assert.Equal(t, "Equipo A", radar.Data.Datasets[0].Label)

	line := src.Demo("line")
	assert.Equal(t, "Ventas", line.Data.Datasets[0].Label)
	assert.Equal(t, []int{12, 19, 3, 5, 2, 3}, line.Data.Datasets[0].Data)

	for i := 0; i < 20; i++ {
		assert.Contains(t, DemoTypes, src.Demo("").Type)
	}
}

func TestColorsJSON(t *testing.T) {
	single, err := json.Marshal(Colors{"#fff"})
	require.NoError(t, err)
	assert.JSONEq(t, `"#fff"`, string(single))

	many, err := json.Marshal(Colors{"#fff", "#000"})
	require.NoError(t, err)
	assert.JSONEq(t, `["#fff","#000"]`, string(many))

	var c Colors
	require.NoError(t, json.Unmarshal([]byte(`"#abc"`), &c))
	assert.Equal(t, Colors{"#abc"}, c)
	require.NoError(t, json.Unmarshal([]byte(`["#1","#2"]`), &c))
	assert.Equal(t, Colors{"#1", "#2"}, c)
}
