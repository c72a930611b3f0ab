package controller

import (
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jinksi/heatmap-example/internal/core/config"
	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/featurestore"
)

func magFeature(m float64) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{153.55, -28.17})
	f.Properties["magnitude"] = m
	return f
}

func dayFeature(ts time.Time) *geojson.Feature {
	f := geojson.NewFeature(orb.Point{153.55, -28.17})
	f.Properties["time"] = float64(ts.UnixMilli())
	return f
}

func collection(fs ...*geojson.Feature) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	fc.Features = append(fc.Features, fs...)
	return fc
}

func TestState_ReducersDoNotMutateReceiver(t *testing.T) {
	s := State{Criterion: model.MagnitudeThreshold(0.01)}

	v := model.Viewport{Latitude: 1, Longitude: 2, Zoom: 3}
	s2 := s.WithViewport(v).WithCriterion(model.MagnitudeThreshold(0.5)).WithMapReady()

	assert.Equal(t, model.Viewport{}, s.Viewport)
	assert.InDelta(t, 0.01, s.Criterion.Threshold, 1e-12)
	assert.False(t, s.MapReady)

	assert.Equal(t, v, s2.Viewport)
	assert.InDelta(t, 0.5, s2.Criterion.Threshold, 1e-12)
	assert.True(t, s2.MapReady)
}

func TestState_WithFetchedAppendsInMagnitudeMode(t *testing.T) {
	s := State{Criterion: model.MagnitudeThreshold(0.01)}

	s1, err := s.WithFetched(config.ModeMagnitude, collection(magFeature(0), magFeature(0.05)))
	require.NoError(t, err)
	s2, err := s1.WithFetched(config.ModeMagnitude, collection(magFeature(0.2)))
	require.NoError(t, err)

	assert.Equal(t, 0, s.Store.Len())
	assert.Equal(t, 2, s1.Store.Len())
	assert.Equal(t, 3, s2.Store.Len())
	assert.Len(t, s2.Visible(time.UTC), 2)
}

func TestState_WithFetchedReplacesOnceInDayMode(t *testing.T) {
	s := State{Criterion: model.DaySelection(true, 0)}

	s1, err := s.WithFetched(config.ModeDay, collection(dayFeature(time.Now())))
	require.NoError(t, err)
	require.Equal(t, 1, s1.Store.Len())

	s2, err := s1.WithFetched(config.ModeDay, collection(dayFeature(time.Now()), dayFeature(time.Now())))
	require.ErrorIs(t, err, featurestore.ErrAlreadyLoaded)
	assert.Equal(t, 1, s2.Store.Len())
}

func TestCriterionFits(t *testing.T) {
	assert.True(t, criterionFits(config.ModeMagnitude, model.MagnitudeThreshold(0.1)))
	assert.False(t, criterionFits(config.ModeMagnitude, model.DaySelection(true, 0)))
	assert.True(t, criterionFits(config.ModeDay, model.DaySelection(false, 1)))
	assert.False(t, criterionFits(config.ModeDay, model.MagnitudeThreshold(0.1)))
}

func TestState_WithDefaultDay(t *testing.T) {
	loc := time.FixedZone("AEST", 10*60*60)
	// 2024-03-01 20:00 UTC is 2024-03-02 06:00 in Brisbane
	ts := time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)

	s := State{Criterion: model.DaySelection(true, 0)}
	assert.Zero(t, s.WithDefaultDay(loc).Criterion.DayMillis, "empty store leaves the selection unset")

	s, err := s.WithFetched(config.ModeDay, collection(dayFeature(ts)))
	require.NoError(t, err)
	got := s.WithDefaultDay(loc).Criterion
	assert.True(t, got.AllDay)
	assert.Equal(t, time.Date(2024, 3, 2, 0, 0, 0, 0, loc).UnixMilli(), got.DayMillis)

	picked := State{Store: s.Store, Criterion: model.DaySelection(false, 42)}
	assert.Equal(t, int64(42), picked.WithDefaultDay(loc).Criterion.DayMillis)

	mag := State{Store: s.Store, Criterion: model.MagnitudeThreshold(0.1)}
	assert.Equal(t, mag.Criterion, mag.WithDefaultDay(loc).Criterion)
}
