package mapsync

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/geo"
)

const (
	OpAddSource = "addSource"
	OpAddLayer  = "addLayer"
	OpSetData   = "setData"
)

var (
	ErrSourceExists = errors.New("mapsync: source already exists")
	ErrNoSource     = errors.New("mapsync: layer references unknown source")
	ErrLayerExists  = errors.New("mapsync: layer already exists")
)

// Mutation is one change applied to a LiveMap, as pushed to widgets.
type Mutation struct {
	Op       string                     `json:"type"`
	SourceID string                     `json:"sourceId,omitempty"`
	Source   *SourceSpec                `json:"source,omitempty"`
	Layer    *Layer                     `json:"layer,omitempty"`
	Data     *geojson.FeatureCollection `json:"data,omitempty"`
}

// LiveMap is the service-side copy of the map widget state. Every mutation
// is fanned out to subscribers in the order it was applied.
type LiveMap struct {
	mu      sync.RWMutex
	loaded  bool
	sources map[string]*liveSource
	order   []string
	layers  []Layer
	subs    map[int]chan Mutation
	nextSub int
}

var _ Map = (*LiveMap)(nil)

func NewLiveMap() *LiveMap {
	return &LiveMap{
		sources: make(map[string]*liveSource),
		subs:    make(map[int]chan Mutation),
	}
}

// MarkLoaded records that a widget finished loading the map.
func (m *LiveMap) MarkLoaded() {
	m.mu.Lock()
	m.loaded = true
	m.mu.Unlock()
}

func (m *LiveMap) Loaded() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.loaded
}

func (m *LiveMap) GetSource(id string) (Source, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	return s, true
}

func (m *LiveMap) AddSource(id string, spec SourceSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("add source %q: %w", id, ErrSourceExists)
	}
	if spec.Type == "" {
		spec.Type = SourceTypeGeoJSON
	}
	data := spec.Data
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	spec.Data = geo.Collection(data.Features)

	m.sources[id] = &liveSource{m: m, id: id, spec: spec}
	m.order = append(m.order, id)
	m.emitLocked(Mutation{Op: OpAddSource, SourceID: id, Source: &spec})
	return nil
}

func (m *LiveMap) AddLayer(l Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[l.Source]; !ok {
		return fmt.Errorf("add layer %q: %w %q", l.ID, ErrNoSource, l.Source)
	}
	for _, have := range m.layers {
		if have.ID == l.ID {
			return fmt.Errorf("add layer %q: %w", l.ID, ErrLayerExists)
		}
	}
	m.layers = append(m.layers, l)
	m.emitLocked(Mutation{Op: OpAddLayer, Layer: &l})
	return nil
}

// Snapshot returns the current data of source id.
func (m *LiveMap) Snapshot(id string) (*geojson.FeatureCollection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sources[id]
	if !ok {
		return nil, false
	}
	return geo.Collection(s.spec.Data.Features), true
}

func (m *LiveMap) Layers() []Layer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Layer(nil), m.layers...)
}

// Subscribe registers for future mutations and returns the mutations that
// rebuild the current state. A subscriber that falls more than buf
// mutations behind is dropped and its channel closed; it must resubscribe
// to resynchronise.
func (m *LiveMap) Subscribe(buf int) (replay []Mutation, ch <-chan Mutation, cancel func()) {
	if buf <= 0 {
		buf = 64
	}
	c := make(chan Mutation, buf)

	m.mu.Lock()
	for _, id := range m.order {
		s := m.sources[id]
		spec := s.spec
		replay = append(replay, Mutation{Op: OpAddSource, SourceID: id, Source: &spec})
	}
	for i := range m.layers {
		l := m.layers[i]
		replay = append(replay, Mutation{Op: OpAddLayer, Layer: &l})
	}
	id := m.nextSub
	m.nextSub++
	m.subs[id] = c
	m.mu.Unlock()

	var once sync.Once
	cancel = func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.subs[id]; ok && cur == c {
				delete(m.subs, id)
				close(c)
			}
		})
	}
	return replay, c, cancel
}

func (m *LiveMap) emitLocked(mt Mutation) {
	for id, c := range m.subs {
		select {
		case c <- mt:
		default:
			delete(m.subs, id)
			close(c)
		}
	}
}

type liveSource struct {
	m    *LiveMap
	id   string
	spec SourceSpec
}

func (s *liveSource) SetData(fc *geojson.FeatureCollection) {
	if fc == nil {
		fc = geojson.NewFeatureCollection()
	}
	data := geo.Collection(fc.Features)

	s.m.mu.Lock()
	defer s.m.mu.Unlock()
	s.spec.Data = data
	s.m.emitLocked(Mutation{Op: OpSetData, SourceID: s.id, Data: data})
}
