// Package filter derives the displayed subset of the feature store. Every
// function is pure and order-preserving, and returns a fresh slice.
package filter

import (
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/geo"
)

// ByMagnitude keeps features whose magnitude is defined and >= threshold.
// The threshold is not clamped.
func ByMagnitude(features []*geojson.Feature, threshold float64) []*geojson.Feature {
	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		m, ok := geo.Magnitude(f)
		if !ok {
			continue
		}
		if m >= threshold {
			out = append(out, f)
		}
	}
	return out
}

// ByDay keeps features whose time falls on the same calendar day as
// epochMillis, both read in loc. A nil loc means UTC.
func ByDay(features []*geojson.Feature, epochMillis int64, loc *time.Location) []*geojson.Feature {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := time.UnixMilli(epochMillis).In(loc).Date()

	out := make([]*geojson.Feature, 0, len(features))
	for _, f := range features {
		ts, ok := geo.Time(f)
		if !ok {
			continue
		}
		fy, fm, fd := ts.In(loc).Date()
		if fy == y && fm == m && fd == d {
			out = append(out, f)
		}
	}
	return out
}

// Apply dispatches on the criterion kind. An "all days" selection keeps
// every feature; an unknown kind keeps none.
func Apply(features []*geojson.Feature, c model.Criterion, loc *time.Location) []*geojson.Feature {
	switch c.Kind {
	case model.KindMagnitude:
		return ByMagnitude(features, c.Threshold)
	case model.KindDay:
		if c.AllDay {
			return append(make([]*geojson.Feature, 0, len(features)), features...)
		}
		return ByDay(features, c.DayMillis, loc)
	default:
		return []*geojson.Feature{}
	}
}

// DayBounds returns the first and last calendar day (midnight in loc)
// covered by features that carry a time. ok is false when none do.
func DayBounds(features []*geojson.Feature, loc *time.Location) (first, last time.Time, ok bool) {
	if loc == nil {
		loc = time.UTC
	}
	for _, f := range features {
		ts, has := geo.Time(f)
		if !has {
			continue
		}
		if !ok || ts.Before(first) {
			first = ts
		}
		if !ok || ts.After(last) {
			last = ts
		}
		ok = true
	}
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	return startOfDay(first, loc), startOfDay(last, loc), true
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
