package config

import (
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // DAY_TIMEZONE must resolve on hosts without zoneinfo
)

// Mode selects which variant of the heatmap the service runs.
type Mode string

const (
	// features accumulate from coordinate fetches, filtered by magnitude
	ModeMagnitude Mode = "magnitude"
	// one static load, filtered by calendar day
	ModeDay Mode = "day"
)

type ViewportCfg struct {
	Latitude  float64
	Longitude float64
	Zoom      float64
	Bearing   float64
	Pitch     float64
}

type CacheCfg struct {
	Enabled   bool
	RedisAddr string
	TTL       time.Duration
	OpTimeout time.Duration
	LRUSize   int
	H3Res     int
}

type EventsCfg struct {
	Enabled bool
	Brokers []string
	Topic   string
	Queue   int
}

type Config struct {
	Addr             string
	LogLevel         string
	LogConsole       bool
	LogSampleN       int
	MetricsEnabled   bool
	Mode             Mode
	MapAccessToken   string
	MapStyleURL      string
	DataURL          string
	StaticURL        string
	SourceID         string
	LayerID          string
	Debounce         time.Duration
	FetchTimeout     time.Duration
	DayTimezone      string
	DefaultMagnitude float64
	Viewport         ViewportCfg
	Cache            CacheCfg
	Events           EventsCfg
}

func FromEnv() Config {
	mode := Mode(strings.ToLower(getenv("MODE", string(ModeMagnitude))))
	if mode != ModeMagnitude && mode != ModeDay {
		mode = ModeMagnitude
	}

	res := getint("H3_RES", 9)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	return Config{
		Addr:             getenv("ADDR", ":8080"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		LogConsole:       getbool("LOG_CONSOLE", false),
		LogSampleN:       getint("LOG_SAMPLE_N", 0),
		MetricsEnabled:   getbool("METRICS_ENABLED", true),
		Mode:             mode,
		MapAccessToken:   getenv("MAPBOX_ACCESS_TOKEN", ""),
		MapStyleURL:      getenv("MAP_STYLE_URL", "mapbox://styles/jinksi/cjxzt908l0p201cqd879lgmuq"),
		DataURL:          getenv("DATA_URL", "https://hello-r.jinks.dev/geojson"),
		StaticURL:        getenv("STATIC_URL", ""),
		SourceID:         getenv("HEATMAP_SOURCE_ID", "example-source"),
		LayerID:          getenv("HEATMAP_LAYER_ID", "example-source"),
		Debounce:         getduration("DEBOUNCE", 200*time.Millisecond),
		FetchTimeout:     getduration("FETCH_TIMEOUT", 30*time.Second),
		DayTimezone:      getenv("DAY_TIMEZONE", "UTC"),
		DefaultMagnitude: getfloat("DEFAULT_MAGNITUDE", 0.01),
		Viewport: ViewportCfg{
			Latitude:  getfloat("VIEWPORT_LATITUDE", -28.1723),
			Longitude: getfloat("VIEWPORT_LONGITUDE", 153.55022),
			Zoom:      getfloat("VIEWPORT_ZOOM", 12),
			Bearing:   getfloat("VIEWPORT_BEARING", 0),
			Pitch:     getfloat("VIEWPORT_PITCH", 45),
		},
		Cache: CacheCfg{
			Enabled:   getbool("CACHE_ENABLED", false),
			RedisAddr: getenv("REDIS_ADDR", "localhost:6379"),
			TTL:       getduration("CACHE_TTL", 10*time.Minute),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
			LRUSize:   getint("CACHE_LRU_SIZE", 256),
			H3Res:     res,
		},
		Events: EventsCfg{
			Enabled: getbool("EVENTS_ENABLED", false),
			Brokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
			Topic:   getenv("KAFKA_TOPIC", "heatmap-interactions"),
			Queue:   getint("EVENTS_QUEUE", 1024),
		},
	}
}

// Location resolves DayTimezone; unknown names fall back to UTC.
func (c Config) Location() *time.Location {
	name := strings.TrimSpace(c.DayTimezone)
	if name == "" || strings.EqualFold(name, "UTC") {
		return time.UTC
	}
	if strings.EqualFold(name, "local") {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// parse "a:9092, b:9092" into a list, dropping blanks
func splitList(s string) []string {
	var out []string
	for p := range strings.SplitSeq(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
