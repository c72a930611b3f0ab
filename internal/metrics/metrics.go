// Package metrics owns the heatmap server's private Prometheus registry.
// Collectors from internal/core/observability register into it, and
// /metrics serves only what this registry holds, so tests can build as many
// independent servers as they like.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// BuildInfo is stamped at link time; empty fields are reported as "".
type BuildInfo struct {
	Version   string
	Revision  string
	BuildDate string
}

type Config struct {
	Build BuildInfo
	// Mode is the data mode the server runs in (magnitude or day).
	Mode string
}

type Provider struct {
	reg *prometheus.Registry
}

// Init creates the registry with Go and process collectors plus a
// heatmap_build_info gauge that lets dashboards split series by build and
// data mode.
func Init(cfg Config) *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "heatmap_build_info",
		Help: "Heatmap server build and data mode (value is always 1).",
	}, []string{"version", "revision", "build_date", "mode"})
	reg.MustRegister(info)

	b := cfg.Build
	if b.Version == "" {
		b.Version = "dev"
	}
	mode := cfg.Mode
	if mode == "" {
		mode = "unknown"
	}
	info.WithLabelValues(b.Version, b.Revision, b.BuildDate, mode).Set(1)

	return &Provider{reg: reg}
}

// Handler serves the registry. A failing collector does not hide the rest.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{
		Registry:      p.reg,
		ErrorHandling: promhttp.ContinueOnError,
	})
}

func (p *Provider) Register(cs ...prometheus.Collector) {
	for _, c := range cs {
		p.reg.MustRegister(c)
	}
}

func (p *Provider) Registerer() prometheus.Registerer { return p.reg }
