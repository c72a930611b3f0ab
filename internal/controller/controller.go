// Package controller owns the heatmap state and turns map, panel and fetch
// events into store updates and map syncs.
package controller

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/core/config"
	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/debounce"
	"github.com/Jinksi/heatmap-example/internal/events"
	"github.com/Jinksi/heatmap-example/internal/featurestore"
	"github.com/Jinksi/heatmap-example/internal/filter"
	"github.com/Jinksi/heatmap-example/internal/logger"
	"github.com/Jinksi/heatmap-example/internal/mapsync"
)

const (
	fetchCoordinates = "coordinates"
	fetchStatic      = "static"

	dayMillis = int64(24 * time.Hour / time.Millisecond)
)

// Fetcher loads feature collections from the data endpoint.
type Fetcher interface {
	FetchByCoordinates(ctx context.Context, lat, lon float64) (*geojson.FeatureCollection, error)
	FetchStatic(ctx context.Context) (*geojson.FeatureCollection, error)
}

// Syncer pushes a feature set into a map widget.
type Syncer interface {
	Sync(ctx context.Context, m mapsync.Map, initial, features []*geojson.Feature) mapsync.Outcome
}

type Options struct {
	Mode      config.Mode
	Debounce  time.Duration
	Location  *time.Location
	Viewport  model.Viewport
	Threshold float64
	// Session tags published events; a random id is used when empty.
	Session string
}

type Controller struct {
	opts    Options
	logger  *slog.Logger
	fetcher Fetcher
	syncer  Syncer
	sink    events.Sink

	mu      sync.Mutex
	state   State
	m       mapsync.Map
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	clicks *debounce.Debouncer[model.LngLat]
}

func New(log *slog.Logger, f Fetcher, s Syncer, sink events.Sink, o Options) *Controller {
	if log == nil {
		log = logger.NewNop()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	if o.Mode == "" {
		o.Mode = config.ModeMagnitude
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Session == "" {
		o.Session = uuid.NewString()
	}

	ctx := logger.WithComponent(context.Background(), "controller")
	ctx = logger.WithMode(ctx, string(o.Mode))
	ctx, cancel := context.WithCancel(ctx)

	c := &Controller{
		opts:    o,
		logger:  log,
		fetcher: f,
		syncer:  s,
		sink:    sink,
		ctx:     ctx,
		cancel:  cancel,
		state: State{
			Viewport:  o.Viewport,
			Criterion: initialCriterion(o),
		},
	}
	c.clicks = debounce.New(o.Debounce, c.fetchAt)
	return c
}

func initialCriterion(o Options) model.Criterion {
	if o.Mode == config.ModeDay {
		return model.DaySelection(true, 0)
	}
	return model.MagnitudeThreshold(o.Threshold)
}

func (c *Controller) Mode() config.Mode { return c.opts.Mode }

// OnMapLoaded records the map and starts the initial fetch. Only the
// first call fetches; later loads from other widgets just attach.
func (c *Controller) OnMapLoaded(ctx context.Context, m mapsync.Map) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.m = m
	c.state = c.state.WithMapReady()
	first := !c.started
	c.started = true
	center := c.state.Viewport
	c.mu.Unlock()

	c.sink.Publish(events.Event{Type: events.TypeMapLoaded, Session: c.opts.Session, Mode: string(c.opts.Mode)})
	if !first {
		c.logger.DebugContext(ctx, "map attached", "fetch", false)
		return false
	}

	c.logger.InfoContext(ctx, "map loaded, initial fetch", "lat", center.Latitude, "lon", center.Longitude)
	if c.opts.Mode == config.ModeDay {
		c.startFetch(fetchStatic, func(ctx context.Context) (*geojson.FeatureCollection, error) {
			return c.fetcher.FetchStatic(ctx)
		})
	} else {
		c.startFetch(fetchCoordinates, func(ctx context.Context) (*geojson.FeatureCollection, error) {
			return c.fetcher.FetchByCoordinates(ctx, center.Latitude, center.Longitude)
		})
	}
	return true
}

// OnMapInteraction schedules a debounced coordinate fetch at p. Day mode
// ignores interactions.
func (c *Controller) OnMapInteraction(p model.LngLat) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if c.opts.Mode != config.ModeMagnitude {
		return nil
	}
	c.sink.Publish(events.Event{
		Type:    events.TypeInteraction,
		Session: c.opts.Session,
		Mode:    string(c.opts.Mode),
		Lng:     p.Lng(),
		Lat:     p.Lat(),
	})
	c.clicks.Trigger(p)
	return nil
}

func (c *Controller) fetchAt(p model.LngLat) {
	c.startFetch(fetchCoordinates, func(ctx context.Context) (*geojson.FeatureCollection, error) {
		return c.fetcher.FetchByCoordinates(ctx, p.Lat(), p.Lng())
	})
}

// OnFilterChange applies a new criterion and re-syncs the visible set.
func (c *Controller) OnFilterChange(ctx context.Context, crit model.Criterion) error {
	_, err := c.UpdateCriterion(ctx, func(model.Criterion) model.Criterion { return crit })
	return err
}

// UpdateCriterion derives the next criterion from the current one under the
// state lock, so panel edits of a single field never race each other.
func (c *Controller) UpdateCriterion(ctx context.Context, fn func(model.Criterion) model.Criterion) (model.Criterion, error) {
	c.mu.Lock()
	crit := fn(c.state.Criterion)
	if !criterionFits(c.opts.Mode, crit) {
		cur := c.state.Criterion
		c.mu.Unlock()
		return cur, ErrCriterionMode
	}
	if c.closed {
		c.mu.Unlock()
		return crit, nil
	}
	c.state = c.state.WithCriterion(crit)
	c.syncLocked(ctx)
	c.mu.Unlock()

	c.sink.Publish(events.Event{Type: events.TypeFilter, Session: c.opts.Session, Mode: string(c.opts.Mode), Detail: describe(crit)})
	return crit, nil
}

func (c *Controller) OnViewportChange(v model.Viewport) {
	c.mu.Lock()
	c.state = c.state.WithViewport(v)
	c.mu.Unlock()
}

func (c *Controller) startFetch(kind string, fn func(context.Context) (*geojson.FeatureCollection, error)) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		fc, err := fn(c.ctx)
		c.apply(kind, fc, err)
	}()
}

func (c *Controller) apply(kind string, fc *geojson.FeatureCollection, err error) {
	ctx := c.ctx
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.WarnContext(ctx, "fetch failed, state unchanged", "kind", kind, "err", err)
		return
	}

	if fc == nil {
		c.logger.WarnContext(ctx, "fetch returned no collection, state unchanged", "kind", kind)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	next, err := c.state.WithFetched(c.opts.Mode, fc)
	if err != nil {
		if errors.Is(err, featurestore.ErrAlreadyLoaded) {
			c.logger.InfoContext(ctx, "store already loaded, response ignored", "kind", kind)
			return
		}
		c.logger.ErrorContext(ctx, "apply fetch result", "kind", kind, "err", err)
		return
	}
	c.state = next.WithDefaultDay(c.opts.Location)
	observability.SetStoredFeatures(c.state.Store.Len())
	c.logger.DebugContext(ctx, "fetch applied", "kind", kind, "received", len(fc.Features), "stored", c.state.Store.Len())
	c.syncLocked(ctx)
}

// syncLocked pushes the current state to the map. The full store seeds a
// source that does not exist yet, so nothing is pushed before the first
// fetch result lands.
func (c *Controller) syncLocked(ctx context.Context) {
	visible := c.state.Visible(c.opts.Location)
	observability.SetVisibleFeatures(len(visible))
	if c.syncer == nil || !c.state.Store.Loaded() {
		return
	}
	c.syncer.Sync(ctx, c.m, c.state.Store.View(), visible)
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Visible returns the currently displayed features.
func (c *Controller) Visible() []*geojson.Feature {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Visible(c.opts.Location)
}

type Bounds struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step"`
}

type Panel struct {
	Mode      config.Mode     `json:"mode"`
	Criterion model.Criterion `json:"criterion"`
	// Bounds is nil in day mode until the store holds dated features.
	Bounds *Bounds `json:"bounds,omitempty"`
}

// Panel describes the control panel: the active criterion and the range of
// values it may take.
func (c *Controller) Panel() Panel {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := Panel{Mode: c.opts.Mode, Criterion: c.state.Criterion}
	if c.opts.Mode != config.ModeDay {
		p.Bounds = &Bounds{Min: 0, Max: 1, Step: 0.01}
		return p
	}
	first, last, ok := filter.DayBounds(c.state.Store.View(), c.opts.Location)
	if ok {
		p.Bounds = &Bounds{
			Min:  float64(first.UnixMilli()),
			Max:  float64(last.UnixMilli()),
			Step: float64(dayMillis),
		}
	}
	return p
}

type Snapshot struct {
	Mode      config.Mode     `json:"mode"`
	Viewport  model.Viewport  `json:"viewport"`
	Criterion model.Criterion `json:"criterion"`
	Stored    int             `json:"stored"`
	Visible   int             `json:"visible"`
	MapReady  bool            `json:"mapReady"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Mode:      c.opts.Mode,
		Viewport:  c.state.Viewport,
		Criterion: c.state.Criterion,
		Stored:    c.state.Store.Len(),
		Visible:   len(c.state.Visible(c.opts.Location)),
		MapReady:  c.state.MapReady,
	}
}

// Ready reports whether a map has loaded.
func (c *Controller) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.MapReady
}

// Wait blocks until every in-flight fetch has been applied.
func (c *Controller) Wait() { c.wg.Wait() }

// Close drops pending interactions, cancels in-flight fetches and waits
// for them to return.
func (c *Controller) Close() {
	c.clicks.Stop()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

func describe(c model.Criterion) string {
	switch {
	case c.Kind == model.KindMagnitude:
		return "magnitude>=" + strconv.FormatFloat(c.Threshold, 'g', -1, 64)
	case c.AllDay:
		return "day=all"
	default:
		return "day=" + c.Day().UTC().Format(time.DateOnly)
	}
}
