// Package fetch issues single-attempt requests to the remote data endpoint
// and decodes the responses into feature collections.
package fetch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/Jinksi/heatmap-example/internal/cache/keys"
	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/geo"
	"github.com/Jinksi/heatmap-example/internal/logger"
)

const (
	KindCoordinates = "coordinates"
	KindStatic      = "static"

	maxBodyBytes = 64 << 20
)

// ErrNetwork matches every *NetworkError with errors.Is.
var ErrNetwork = errors.New("fetch: network error")

type NetworkError struct {
	Op     string
	URL    string
	Status int
	Err    error
}

func (e *NetworkError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch: %s %s: upstream status %d: %v", e.Op, e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("fetch: %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func (e *NetworkError) Is(target error) bool { return target == ErrNetwork }

// ResponseCache stores raw coordinate-query payloads.
type ResponseCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Put(ctx context.Context, key string, val []byte)
}

// CellMapper buckets query points for cache keys.
type CellMapper interface {
	CellForPoint(lat, lng float64) (string, error)
	Res() int
}

type Options struct {
	DataURL   string
	StaticURL string
	Cache     ResponseCache
	Cells     CellMapper
}

type Gateway struct {
	logger    *slog.Logger
	client    *http.Client
	dataURL   *url.URL
	staticURL *url.URL
	cache     ResponseCache
	cells     CellMapper
	startNow  func() time.Time // for tests
}

func New(log *slog.Logger, client *http.Client, o Options) (*Gateway, error) {
	if log == nil {
		log = logger.NewNop()
	}
	if client == nil {
		client = http.DefaultClient
	}
	g := &Gateway{
		logger:   log,
		client:   client,
		startNow: time.Now,
	}
	if o.DataURL != "" {
		u, err := parseEndpoint(o.DataURL)
		if err != nil {
			return nil, fmt.Errorf("data url: %w", err)
		}
		g.dataURL = u
	}
	if o.StaticURL != "" {
		u, err := parseEndpoint(o.StaticURL)
		if err != nil {
			return nil, fmt.Errorf("static url: %w", err)
		}
		g.staticURL = u
	}
	if o.Cache != nil && o.Cells != nil {
		g.cache = o.Cache
		g.cells = o.Cells
	}
	return g, nil
}

func parseEndpoint(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
	}
	return u, nil
}

type coordinateQuery struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// FetchByCoordinates POSTs {lat, lon} to the data endpoint and decodes the
// one-element envelope it answers with.
func (g *Gateway) FetchByCoordinates(ctx context.Context, lat, lon float64) (*geojson.FeatureCollection, error) {
	if g.dataURL == nil {
		return nil, &NetworkError{Op: http.MethodPost, Err: errors.New("no data url configured")}
	}

	key := g.cacheKey(lat, lon)
	if key != "" {
		if b, ok := g.cache.Get(ctx, key); ok {
			if fc, err := geo.DecodeEnvelope(b); err == nil {
				observability.IncFetch(KindCoordinates, "cache_hit")
				return fc, nil
			}
		}
	}

	body, err := json.Marshal(coordinateQuery{Lat: lat, Lon: lon})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	b, err := g.do(ctx, KindCoordinates, http.MethodPost, g.dataURL, body)
	if err != nil {
		return nil, err
	}
	fc, err := geo.DecodeEnvelope(b)
	if err != nil {
		observability.IncFetch(KindCoordinates, "parse_error")
		return nil, err
	}
	observability.IncFetch(KindCoordinates, "ok")
	if key != "" {
		g.cache.Put(ctx, key, b)
	}
	g.logger.DebugContext(ctx, "coordinate fetch done",
		"lat", lat, "lon", lon, "features", len(fc.Features))
	return fc, nil
}

// FetchStatic GETs the static GeoJSON document.
func (g *Gateway) FetchStatic(ctx context.Context) (*geojson.FeatureCollection, error) {
	if g.staticURL == nil {
		return nil, &NetworkError{Op: http.MethodGet, Err: errors.New("no static url configured")}
	}
	b, err := g.do(ctx, KindStatic, http.MethodGet, g.staticURL, nil)
	if err != nil {
		return nil, err
	}
	fc, err := geo.DecodeCollection(b)
	if err != nil {
		observability.IncFetch(KindStatic, "parse_error")
		return nil, err
	}
	observability.IncFetch(KindStatic, "ok")
	g.logger.DebugContext(ctx, "static fetch done", "features", len(fc.Features))
	return fc, nil
}

func (g *Gateway) do(ctx context.Context, kind, method string, u *url.URL, body []byte) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return nil, &NetworkError{Op: method, URL: u.String(), Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := g.startNow()
	resp, err := g.client.Do(req)
	if err != nil {
		observability.IncFetch(kind, "network_error")
		return nil, &NetworkError{Op: method, URL: u.String(), Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	observability.ObserveUpstreamLatency(kind, time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		observability.IncFetch(kind, "network_error")
		return nil, &NetworkError{Op: method, URL: u.String(), Status: resp.StatusCode, Err: errors.New(strings.TrimSpace(string(b)))}
	}

	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		observability.IncFetch(kind, "network_error")
		return nil, &NetworkError{Op: method, URL: u.String(), Err: fmt.Errorf("read body: %w", err)}
	}
	return b, nil
}

func (g *Gateway) cacheKey(lat, lon float64) string {
	if g.cache == nil {
		return ""
	}
	cell, err := g.cells.CellForPoint(lat, lon)
	if err != nil {
		g.logger.Debug("no cache cell for point", "lat", lat, "lon", lon, "err", err)
		return ""
	}
	return keys.Response(g.dataURL.String(), g.cells.Res(), cell)
}
