package main

import (
	"math"
	"math/rand"
	"testing"

	"github.com/Jinksi/heatmap-example/internal/core/model"
)

func TestPercentile(t *testing.T) {
	vals := []float64{1, 2, 3, 4, 5}
	if got := percentile(vals, 50); got != 3 {
		t.Fatalf("p50=%v want 3", got)
	}
	if got := percentile(vals, 100); got != 5 {
		t.Fatalf("p100=%v want 5", got)
	}
	if got := percentile(vals, 0); got != 1 {
		t.Fatalf("p0=%v want 1", got)
	}
	if got := percentile(vals, 95); math.Abs(got-4.8) > 1e-9 {
		t.Fatalf("p95=%v want 4.8", got)
	}
	if !math.IsNaN(percentile(nil, 50)) {
		t.Fatal("empty input should be NaN")
	}
}

func TestMakePoints_StayNearCentre(t *testing.T) {
	centre := model.Viewport{Latitude: -28.1723, Longitude: 153.55022}
	pts := makePoints(40, centre, 0.2, rand.New(rand.NewSource(1)))

	if len(pts) != 40 {
		t.Fatalf("len=%d want 40", len(pts))
	}
	for i, p := range pts {
		if err := p.Validate(); err != nil {
			t.Fatalf("point %d invalid: %v", i, err)
		}
		limit := 0.2
		if i < 10 {
			limit = 0.02
		}
		if math.Abs(p.Lng()-centre.Longitude) > limit || math.Abs(p.Lat()-centre.Latitude) > limit {
			t.Fatalf("point %d %v outside %.2f of centre", i, p, limit)
		}
	}
}
