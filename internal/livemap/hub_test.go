package livemap

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jinksi/heatmap-example/internal/core/model"
	"github.com/Jinksi/heatmap-example/internal/mapsync"
)

type fakeController struct {
	syncer *mapsync.Syncer

	mu        sync.Mutex
	loads     int
	clicks    []model.LngLat
	viewports []model.Viewport
}

func (f *fakeController) OnMapLoaded(ctx context.Context, m mapsync.Map) bool {
	f.mu.Lock()
	f.loads++
	f.mu.Unlock()
	feat := geojson.NewFeature(orb.Point{153.5, -28.1})
	feat.Properties["magnitude"] = 0.5
	fs := []*geojson.Feature{feat}
	f.syncer.Sync(ctx, m, fs, fs)
	return true
}

func (f *fakeController) OnMapInteraction(p model.LngLat) error {
	if err := p.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	f.clicks = append(f.clicks, p)
	f.mu.Unlock()
	return nil
}

func (f *fakeController) OnViewportChange(v model.Viewport) {
	f.mu.Lock()
	f.viewports = append(f.viewports, v)
	f.mu.Unlock()
}

func (f *fakeController) snapshot() (int, []model.LngLat, []model.Viewport) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, append([]model.LngLat(nil), f.clicks...), append([]model.Viewport(nil), f.viewports...)
}

type frame map[string]json.RawMessage

func (fr frame) typ(t *testing.T) string {
	t.Helper()
	var s string
	require.NoError(t, json.Unmarshal(fr["type"], &s))
	return s
}

var testCfg = MapConfig{
	AccessToken: "pk.test",
	StyleURL:    "mapbox://styles/mapbox/dark-v9",
	Viewport:    model.Viewport{Latitude: -28.1723, Longitude: 153.55022, Zoom: 12, Pitch: 45},
}

func newTestHub(t *testing.T) (*Hub, *fakeController, *mapsync.LiveMap, string) {
	t.Helper()
	m := mapsync.NewLiveMap()
	ctl := &fakeController{syncer: mapsync.New(nil, "example-source", "")}
	h := NewHub(nil, m, ctl, testCfg)
	srv := httptest.NewServer(h)
	t.Cleanup(func() {
		h.Close()
		srv.Close()
	})
	return h, ctl, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var fr frame
	require.NoError(t, conn.ReadJSON(&fr))
	return fr
}

func TestHub_SendsConfigFirst(t *testing.T) {
	_, _, _, url := newTestHub(t)
	conn := dial(t, url)

	fr := read(t, conn)

	assert.Equal(t, MsgConfig, fr.typ(t))
	var vp model.Viewport
	require.NoError(t, json.Unmarshal(fr["viewport"], &vp))
	assert.Equal(t, testCfg.Viewport, vp)
	assert.JSONEq(t, `"pk.test"`, string(fr["accessToken"]))
}

func TestHub_LoadCreatesSourceAndLayer(t *testing.T) {
	_, ctl, m, url := newTestHub(t)
	conn := dial(t, url)
	read(t, conn) // config

	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgLoad}))

	assert.Equal(t, mapsync.OpAddSource, read(t, conn).typ(t))
	assert.Equal(t, mapsync.OpAddLayer, read(t, conn).typ(t))
	loads, _, _ := ctl.snapshot()
	assert.Equal(t, 1, loads)
	assert.True(t, m.Loaded())
}

func TestHub_LateClientGetsReplay(t *testing.T) {
	_, _, _, url := newTestHub(t)
	first := dial(t, url)
	read(t, first)
	require.NoError(t, first.WriteJSON(Inbound{Type: MsgLoad}))
	read(t, first)
	read(t, first)

	late := dial(t, url)
	assert.Equal(t, MsgConfig, read(t, late).typ(t))
	src := read(t, late)
	require.Equal(t, mapsync.OpAddSource, src.typ(t))
	var spec mapsync.SourceSpec
	require.NoError(t, json.Unmarshal(src["source"], &spec))
	require.NotNil(t, spec.Data)
	assert.Len(t, spec.Data.Features, 1)
	assert.Equal(t, mapsync.OpAddLayer, read(t, late).typ(t))
}

func TestHub_ForwardsClicksAndViewport(t *testing.T) {
	_, ctl, _, url := newTestHub(t)
	conn := dial(t, url)
	read(t, conn)

	p := model.LngLat{153.6, -28.2}
	vp := model.Viewport{Latitude: -28, Longitude: 153, Zoom: 10}
	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgClick, LngLat: &p}))
	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgViewport, Viewport: &vp}))

	require.Eventually(t, func() bool {
		_, clicks, vps := ctl.snapshot()
		return len(clicks) == 1 && len(vps) == 1
	}, 2*time.Second, 10*time.Millisecond)
	_, clicks, vps := ctl.snapshot()
	assert.Equal(t, p, clicks[0])
	assert.Equal(t, vp, vps[0])
}

func TestHub_RejectsBadMessagesWithoutDisconnecting(t *testing.T) {
	_, ctl, _, url := newTestHub(t)
	conn := dial(t, url)
	read(t, conn)

	bad := []string{
		`{"type":"click"}`,
		`{"type":"click","lngLat":[500,0]}`,
		`{"type":"zoom"}`,
		`{"type":`,
	}
	for _, msg := range bad {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		fr := read(t, conn)
		assert.Equal(t, MsgError, fr.typ(t), msg)
	}

	p := model.LngLat{1, 2}
	require.NoError(t, conn.WriteJSON(Inbound{Type: MsgClick, LngLat: &p}))
	require.Eventually(t, func() bool {
		_, clicks, _ := ctl.snapshot()
		return len(clicks) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHub_TracksClients(t *testing.T) {
	h, _, _, url := newTestHub(t)
	a := dial(t, url)
	read(t, a)
	b := dial(t, url)
	read(t, b)

	require.Eventually(t, func() bool { return h.Clients() == 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, a.Close())
	require.Eventually(t, func() bool { return h.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
}
