package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/livemap"
	"github.com/Jinksi/heatmap-example/internal/mapsync"
)

type Config struct {
	TargetURL       string
	Clients         int
	Duration        time.Duration
	ClickEvery      time.Duration
	ZipfS           float64
	ZipfV           float64
	PointCount      int
	Spread          float64
	OutputPrefix    string
	UpdateTimeout   time.Duration
	AppendTimestamp bool
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "ws://localhost:8080/ws", "heatmap server websocket URL")
	flag.IntVar(&cfg.Clients, "clients", 8, "concurrent map widgets")
	flag.DurationVar(&cfg.Duration, "duration", 60*time.Second, "test duration")
	flag.DurationVar(&cfg.ClickEvery, "click-every", 500*time.Millisecond, "pause between clicks per widget")
	flag.Float64Var(&cfg.ZipfS, "zipf-s", 1.3, "Zipf parameter s (>1)")
	flag.Float64Var(&cfg.ZipfV, "zipf-v", 1.0, "Zipf parameter v (>=1)")
	flag.IntVar(&cfg.PointCount, "points", 128, "distinct click positions in pool")
	flag.Float64Var(&cfg.Spread, "spread", 0.25, "max offset in degrees of click positions from the viewport centre")
	flag.StringVar(&cfg.OutputPrefix, "out", "results/heatmap", "output file prefix (JSON/CSV)")
	flag.DurationVar(&cfg.UpdateTimeout, "timeout", 5*time.Second, "max wait for a setData after a click")
	flag.BoolVar(&cfg.AppendTimestamp, "append-ts", true, "append timestamp to output prefix")
	flag.Parse()
	return cfg
}

// makePoints builds a pool of click positions: the first quarter packed
// tightly around the centre, the rest spread out.
func makePoints(count int, centre model.Viewport, spread float64, r *rand.Rand) []model.LngLat {
	pts := make([]model.LngLat, 0, count)
	hot := int(math.Max(4, float64(count/4)))
	for len(pts) < count {
		s := spread
		if len(pts) < hot {
			s = spread / 10
		}
		lng := centre.Longitude + (r.Float64()*2-1)*s
		lat := centre.Latitude + (r.Float64()*2-1)*s
		p := model.LngLat{lng, lat}
		if p.Validate() != nil {
			continue
		}
		pts = append(pts, p)
	}
	return pts
}

// one click and the wait for the map update it produced
type sample struct {
	Timestamp time.Time
	Latency   time.Duration
	Client    int
	Point     model.LngLat
	ErrorMsg  string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalClicks   int64     `json:"total"`
	UpdatedCount  int64     `json:"updated"`
	ErrorCount    int64     `json:"errors"`
	ThroughputCPS float64   `json:"clicks_per_sec"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Clients       int       `json:"clients"`
	ZipfS         float64   `json:"zipf_s"`
	ZipfV         float64   `json:"zipf_v"`
	Points        int       `json:"points"`
	TargetURL     string    `json:"target"`
}

type aggregatedResult struct {
	total   int64
	updated int64
	errors  int64
	latMs   []float64
}

type frame struct {
	Type     string          `json:"type"`
	Viewport *model.Viewport `json:"viewport,omitempty"`
}

// widget is one connected map client; updates receives a tick for every
// setData pushed by the server.
type widget struct {
	conn    *websocket.Conn
	updates chan struct{}
	mu      sync.Mutex
}

func dialWidget(ctx context.Context, target string) (*widget, model.Viewport, error) {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.DialContext(ctx, target, nil)
	if err != nil {
		return nil, model.Viewport{}, fmt.Errorf("dial %s: %w", target, err)
	}
	_ = resp.Body.Close()

	var cfg frame
	if err := conn.ReadJSON(&cfg); err != nil {
		_ = conn.Close()
		return nil, model.Viewport{}, fmt.Errorf("read config: %w", err)
	}
	if cfg.Type != livemap.MsgConfig || cfg.Viewport == nil {
		_ = conn.Close()
		return nil, model.Viewport{}, fmt.Errorf("expected config message, got %q", cfg.Type)
	}

	w := &widget{conn: conn, updates: make(chan struct{}, 1)}
	go func() {
		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				close(w.updates)
				return
			}
			if f.Type == mapsync.OpSetData || f.Type == mapsync.OpAddSource {
				select {
				case w.updates <- struct{}{}:
				default:
				}
			}
		}
	}()
	return w, *cfg.Viewport, nil
}

func (w *widget) send(in livemap.Inbound) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return w.conn.WriteJSON(in)
}

func main() {
	cfg := loadConfig()
	if err := os.MkdirAll(filepath.Dir(cfg.OutputPrefix), 0o750); err != nil {
		log.Fatalf("mkdir results: %v", err)
	}
	prefix := cfg.OutputPrefix
	if cfg.AppendTimestamp {
		prefix = fmt.Sprintf("%s_%s", prefix, time.Now().UTC().Format("20060102_150405Z"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	widgets := make([]*widget, 0, cfg.Clients)
	var centre model.Viewport
	for i := range cfg.Clients {
		w, vp, err := dialWidget(ctx, cfg.TargetURL)
		if err != nil {
			log.Fatalf("client %d: %v", i, err)
		}
		defer func() { _ = w.conn.Close() }()
		centre = vp
		widgets = append(widgets, w)
	}
	// the first load triggers the initial fetch; later ones only attach
	for _, w := range widgets {
		if err := w.send(livemap.Inbound{Type: livemap.MsgLoad}); err != nil {
			log.Fatalf("send load: %v", err)
		}
	}

	seed := time.Now().UnixNano()
	points := makePoints(cfg.PointCount, centre, cfg.Spread, rand.New(rand.NewSource(seed)))
	imax := uint64(len(points)) - 1

	csvPath := prefix + "_samples.csv"
	jsonPath := prefix + "_summary.json"
	csvFile, err := os.Create(filepath.Clean(csvPath))
	if err != nil {
		log.Printf("open csv: %v", err)
		return
	}
	defer func() { _ = csvFile.Close() }()
	csvWriter := csv.NewWriter(csvFile)

	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		_ = csvWriter.Write([]string{"timestamp", "latency_ms", "client", "lng", "lat", "error"})
		var res aggregatedResult
		for s := range samplesChan {
			res.total++
			if s.ErrorMsg == "" {
				res.updated++
				res.latMs = append(res.latMs, float64(s.Latency.Microseconds())/1000.0)
			} else {
				res.errors++
			}
			_ = csvWriter.Write([]string{
				s.Timestamp.UTC().Format(time.RFC3339Nano),
				fmt.Sprintf("%.3f", float64(s.Latency.Microseconds())/1000.0),
				fmt.Sprintf("%d", s.Client),
				fmt.Sprintf("%.5f", s.Point.Lng()),
				fmt.Sprintf("%.5f", s.Point.Lat()),
				s.ErrorMsg,
			})
		}
		csvWriter.Flush()
		if err := csvWriter.Error(); err != nil {
			log.Printf("csv flush error: %v", err)
		}
		resultsChan <- res
	}()

	startTime := time.Now()
	log.Printf("loadgen start target=%s dur=%s clients=%d zipf(s=%.2f,v=%.2f) points=%d",
		cfg.TargetURL, cfg.Duration, cfg.Clients, cfg.ZipfS, cfg.ZipfV, len(points))

	var wg sync.WaitGroup
	wg.Add(len(widgets))
	for id, w := range widgets {
		go func(id int, w *widget) {
			defer wg.Done()
			zipf := rand.NewZipf(rand.New(rand.NewSource(seed+int64(id)+1)), cfg.ZipfS, cfg.ZipfV, imax)
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(cfg.ClickEvery):
				}

				v := zipf.Uint64()
				if v >= uint64(len(points)) {
					continue
				}
				p := points[v]
				s := sample{Timestamp: time.Now(), Client: id, Point: p}
				if err := w.send(livemap.Inbound{Type: livemap.MsgClick, LngLat: &p}); err != nil {
					s.ErrorMsg = err.Error()
				} else {
					select {
					case _, ok := <-w.updates:
						if !ok {
							s.ErrorMsg = "connection closed"
						}
					case <-time.After(cfg.UpdateTimeout):
						s.ErrorMsg = "no update"
					case <-ctx.Done():
						return
					}
				}
				s.Latency = time.Since(s.Timestamp)

				select {
				case samplesChan <- s:
				case <-ctx.Done():
					return
				}
				if s.ErrorMsg == "connection closed" {
					return
				}
			}
		}(id, w)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	agg := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(agg.latMs)
	p50 := percentile(agg.latMs, 50)
	p95 := percentile(agg.latMs, 95)
	p99 := percentile(agg.latMs, 99)

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalClicks:   agg.total,
		UpdatedCount:  agg.updated,
		ErrorCount:    agg.errors,
		ThroughputCPS: float64(agg.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		Clients:       cfg.Clients,
		ZipfS:         cfg.ZipfS,
		ZipfV:         cfg.ZipfV,
		Points:        len(points),
		TargetURL:     cfg.TargetURL,
	}

	if jsonFile, err := os.Create(filepath.Clean(jsonPath)); err == nil {
		enc := json.NewEncoder(jsonFile)
		enc.SetIndent("", "  ")
		_ = enc.Encode(runSummary)
		_ = jsonFile.Close()
	}

	log.Printf("done: clicks=%d updated=%d err=%d rate=%.2f/s p50=%.1fms p95=%.1fms p99=%.1fms",
		agg.total, agg.updated, agg.errors, runSummary.ThroughputCPS, p50, p95, p99)
	log.Printf("wrote %s and %s", jsonPath, csvPath)
	if strings.HasPrefix(cfg.TargetURL, "ws://localhost") && agg.updated == 0 {
		log.Printf("no map updates observed; is the data endpoint reachable from the server?")
	}
}

func percentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sortedValues[0]
	}
	if p >= 100 {
		return sortedValues[len(sortedValues)-1]
	}
	k := (p / 100.0) * float64(len(sortedValues)-1)
	f := math.Floor(k)
	i := int(f)
	if i >= len(sortedValues)-1 {
		return sortedValues[len(sortedValues)-1]
	}
	d := k - f
	return sortedValues[i]*(1-d) + sortedValues[i+1]*d
}
