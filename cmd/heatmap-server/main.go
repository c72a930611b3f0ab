package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/Jinksi/heatmap-example/internal/cache/redisstore"
	"github.com/Jinksi/heatmap-example/internal/cache/responsecache"
	"github.com/Jinksi/heatmap-example/internal/controller"
	"github.com/Jinksi/heatmap-example/internal/core/config"
	"github.com/Jinksi/heatmap-example/internal/core/httpclient"
	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/core/observability"
	"github.com/Jinksi/heatmap-example/internal/core/server"
	"github.com/Jinksi/heatmap-example/internal/events"
	"github.com/Jinksi/heatmap-example/internal/fetch"
	"github.com/Jinksi/heatmap-example/internal/livemap"
	"github.com/Jinksi/heatmap-example/internal/logger"
	h3mapper "github.com/Jinksi/heatmap-example/internal/mapper/h3"
	"github.com/Jinksi/heatmap-example/internal/mapsync"
	"github.com/Jinksi/heatmap-example/internal/metrics"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

type readiness struct {
	ctl *controller.Controller
	hub *livemap.Hub
}

func (r readiness) Ready() bool  { return r.ctl.Ready() }
func (r readiness) Clients() int { return r.hub.Clients() }

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	modeFlag := flag.String("mode", "", "override MODE (magnitude|day)")
	flag.Parse()

	// a missing .env is normal outside development
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("dotenv: %v", err)
	}

	cfg := config.FromEnv()
	if m := config.Mode(strings.ToLower(strings.TrimSpace(*modeFlag))); m == config.ModeMagnitude || m == config.ModeDay {
		cfg.Mode = m
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Mode:      string(cfg.Mode),
		Component: "heatmap-server",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if cfg.Mode == config.ModeDay && cfg.StaticURL == "" {
		appLog.Error("STATIC_URL is required in day mode")
		return 1
	}

	p := metrics.Init(metrics.Config{
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
		Mode: string(cfg.Mode),
	})
	observability.Init(p.Registerer(), cfg.MetricsEnabled)
	observability.SetMode(string(cfg.Mode))
	observability.ExposeBuildInfo(Version)

	appLog.Info("starting heatmap server",
		"addr", cfg.Addr,
		"version", Version,
		"mode", cfg.Mode,
		"data_url", cfg.DataURL,
		"static_url", cfg.StaticURL,
		"day_timezone", cfg.Location().String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := fetch.Options{DataURL: cfg.DataURL, StaticURL: cfg.StaticURL}
	if cfg.Cache.Enabled {
		cache, cleanup, err := buildCache(ctx, cfg, appLog)
		if err != nil {
			appLog.Error("response cache setup failed", "err", err)
			return 1
		}
		defer cleanup()
		cells, err := h3mapper.New(cfg.Cache.H3Res)
		if err != nil {
			appLog.Error("h3 mapper", "err", err)
			return 1
		}
		opts.Cache = cache
		opts.Cells = cells
	}

	client := httpclient.NewOutbound(httpclient.Config{Timeout: cfg.FetchTimeout, UserAgent: "heatmap-example/" + Version})
	gw, err := fetch.New(appLog, client, opts)
	if err != nil {
		appLog.Error("failed to initialize fetch gateway", "err", err)
		return 1
	}

	var sink events.Sink = events.Nop{}
	if cfg.Events.Enabled {
		pub, err := events.NewPublisher(cfg.Events.Brokers, cfg.Events.Topic, cfg.Events.Queue, appLog)
		if err != nil {
			appLog.Error("events publisher", "err", err, "brokers", cfg.Events.Brokers)
			return 1
		}
		defer func() {
			if err := pub.Close(); err != nil {
				appLog.Warn("events publisher close", "err", err)
			}
		}()
		sink = pub
	}

	vp := model.Viewport{
		Latitude:  cfg.Viewport.Latitude,
		Longitude: cfg.Viewport.Longitude,
		Zoom:      cfg.Viewport.Zoom,
		Bearing:   cfg.Viewport.Bearing,
		Pitch:     cfg.Viewport.Pitch,
	}
	liveMap := mapsync.NewLiveMap()
	ctl := controller.New(appLog, gw, mapsync.New(appLog, cfg.SourceID, cfg.LayerID), sink, controller.Options{
		Mode:      cfg.Mode,
		Debounce:  cfg.Debounce,
		Location:  cfg.Location(),
		Viewport:  vp,
		Threshold: cfg.DefaultMagnitude,
	})
	defer ctl.Close()

	hub := livemap.NewHub(appLog, liveMap, ctl, livemap.MapConfig{
		AccessToken: cfg.MapAccessToken,
		StyleURL:    cfg.MapStyleURL,
		Viewport:    vp,
	})
	defer hub.Close()

	deps := server.Deps{
		Panel:   ctl,
		Sources: liveMap,
		Ready:   readiness{ctl: ctl, hub: hub},
		MapHub:  hub,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = p.Handler()
	}

	if err := server.Run(ctx, cfg, appLog, deps); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// buildCache wires the LRU tier in front of Redis. An unreachable Redis
// degrades to LRU only.
func buildCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (*responsecache.Cache, func(), error) {
	var remote responsecache.Remote
	cleanup := func() {}

	rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, response cache is local only", "addr", cfg.Cache.RedisAddr, "err", err)
	} else {
		remote = rc
		cleanup = func() { _ = rc.Close() }
	}

	c, cerr := responsecache.New(remote, responsecache.Options{
		LocalSize: cfg.Cache.LRUSize,
		TTL:       cfg.Cache.TTL,
		OpTimeout: cfg.Cache.OpTimeout,
		Logger:    logger,
	})
	if cerr != nil {
		cleanup()
		return nil, nil, cerr
	}
	return c, cleanup, nil
}
