package mapsync

// MaxZoomLevel is the heatmap layer's maxzoom.
const MaxZoomLevel = 24

// Layer is a map style layer definition in the shape map widgets accept.
type Layer struct {
	ID      string         `json:"id"`
	Source  string         `json:"source"`
	Type    string         `json:"type"`
	MaxZoom float64        `json:"maxzoom,omitempty"`
	Paint   map[string]any `json:"paint,omitempty"`
}

// HeatmapLayer returns the static heatmap style bound to source.
func HeatmapLayer(id, source string) Layer {
	return Layer{
		ID:      id,
		Source:  source,
		Type:    "heatmap",
		MaxZoom: MaxZoomLevel,
		Paint: map[string]any{
			// weight grows with the magnitude property
			"heatmap-weight": []any{
				"interpolate", []any{"linear"}, []any{"get", "magnitude"},
				0, 0.1,
				6, 1,
			},
			"heatmap-intensity": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				0, 1,
				MaxZoomLevel, 3,
			},
			"heatmap-color": []any{
				"interpolate", []any{"linear"}, []any{"heatmap-density"},
				0, "rgba(33,102,172,0)",
				0.2, "rgb(103,169,207)",
				0.4, "rgb(209,229,240)",
				0.6, "rgb(253,219,199)",
				0.8, "rgb(239,138,98)",
				1, "rgb(178,24,43)",
			},
			"heatmap-radius": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				0, 2,
				MaxZoomLevel, 20,
			},
			"heatmap-opacity": []any{
				"interpolate", []any{"linear"}, []any{"zoom"},
				7, 1,
				MaxZoomLevel, 0.6,
			},
		},
	}
}
