// Package mapsync keeps a live map's GeoJSON source in step with the
// filtered feature set.
package mapsync

import (
	"context"
	"errors"
	"log/slog"

	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/geo"
	"github.com/Jinksi/heatmap-example/internal/logger"
)

const SourceTypeGeoJSON = "geojson"

type SourceSpec struct {
	Type string                     `json:"type"`
	Data *geojson.FeatureCollection `json:"data"`
}

type Source interface {
	SetData(fc *geojson.FeatureCollection)
}

// Map is the capability set consumed from a map widget.
type Map interface {
	GetSource(id string) (Source, bool)
	AddSource(id string, spec SourceSpec) error
	AddLayer(l Layer) error
}

// readiness is implemented by maps that know whether the widget has
// finished loading.
type readiness interface {
	Loaded() bool
}

// ErrMapNotReady matches every *MapNotReadyError with errors.Is.
var ErrMapNotReady = errors.New("mapsync: map not ready")

type MapNotReadyError struct {
	SourceID string
}

func (e *MapNotReadyError) Error() string {
	return "mapsync: map not ready for source " + e.SourceID
}

func (e *MapNotReadyError) Is(target error) bool { return target == ErrMapNotReady }

type Outcome int

const (
	Skipped Outcome = iota
	Created
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

type Syncer struct {
	sourceID string
	layerID  string
	logger   *slog.Logger
}

func New(log *slog.Logger, sourceID, layerID string) *Syncer {
	if log == nil {
		log = logger.NewNop()
	}
	if layerID == "" {
		layerID = sourceID
	}
	return &Syncer{sourceID: sourceID, layerID: layerID, logger: log}
}

func (s *Syncer) SourceID() string { return s.sourceID }

// Sync creates the source from initial and attaches the heatmap layer when
// the map has no source yet; otherwise it replaces the source data with
// features. Errors never escape: they are logged and reported as Skipped.
func (s *Syncer) Sync(ctx context.Context, m Map, initial, features []*geojson.Feature) Outcome {
	out, err := s.sync(m, initial, features)
	if err != nil {
		lvl := slog.LevelError
		if errors.Is(err, ErrMapNotReady) {
			lvl = slog.LevelDebug
		}
		s.logger.Log(ctx, lvl, "map sync suppressed", "source", s.sourceID, "err", err)
	}
	observability.IncMapSync(out.String())
	return out
}

func (s *Syncer) sync(m Map, initial, features []*geojson.Feature) (Outcome, error) {
	if m == nil {
		return Skipped, &MapNotReadyError{SourceID: s.sourceID}
	}
	if r, ok := m.(readiness); ok && !r.Loaded() {
		return Skipped, &MapNotReadyError{SourceID: s.sourceID}
	}

	if src, ok := m.GetSource(s.sourceID); ok {
		src.SetData(geo.Collection(features))
		return Updated, nil
	}

	if err := m.AddSource(s.sourceID, SourceSpec{Type: SourceTypeGeoJSON, Data: geo.Collection(initial)}); err != nil {
		return Skipped, err
	}
	if err := m.AddLayer(HeatmapLayer(s.layerID, s.sourceID)); err != nil {
		return Created, err
	}
	return Created, nil
}
