package controller

import (
	"errors"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/core/config"
	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/featurestore"
	"github.com/Jinksi/heatmap-example/internal/filter"
)

// ErrCriterionMode is returned for a criterion that does not belong to
// the running mode.
var ErrCriterionMode = errors.New("controller: criterion does not match mode")

// State is the controller's whole mutable world as one immutable record.
// Each With* reducer returns an updated copy.
type State struct {
	Viewport  model.Viewport
	Store     featurestore.Store
	Criterion model.Criterion
	MapReady  bool
}

func (s State) WithViewport(v model.Viewport) State {
	s.Viewport = v
	return s
}

func (s State) WithMapReady() State {
	s.MapReady = true
	return s
}

func (s State) WithCriterion(c model.Criterion) State {
	s.Criterion = c
	return s
}

// WithFetched folds a fetch result into the store: appended in magnitude
// mode, replaced once in day mode.
func (s State) WithFetched(mode config.Mode, fc *geojson.FeatureCollection) (State, error) {
	if mode == config.ModeDay {
		st, err := s.Store.Replace(fc)
		if err != nil {
			return s, err
		}
		s.Store = st
		return s, nil
	}
	s.Store = s.Store.Append(fc)
	return s, nil
}

// WithDefaultDay points an unset day selection at the first day in the
// store, so turning "all days" off never lands on the epoch.
func (s State) WithDefaultDay(loc *time.Location) State {
	if s.Criterion.Kind != model.KindDay || s.Criterion.DayMillis != 0 {
		return s
	}
	first, _, ok := filter.DayBounds(s.Store.View(), loc)
	if !ok {
		return s
	}
	s.Criterion.DayMillis = first.UnixMilli()
	return s
}

// Visible is the filtered projection of the store.
func (s State) Visible(loc *time.Location) []*geojson.Feature {
	return filter.Apply(s.Store.View(), s.Criterion, loc)
}

func criterionFits(mode config.Mode, c model.Criterion) bool {
	switch mode {
	case config.ModeDay:
		return c.Kind == model.KindDay
	default:
		return c.Kind == model.KindMagnitude
	}
}
