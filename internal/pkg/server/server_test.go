package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/house-power-simulator/internal/pkg/fuse"
	"github.com/anicoll/house-power-simulator/internal/pkg/metrics"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/simulation"
)

type fixture struct {
	sim *simulation.Simulation
	hub *Hub
	srv *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	noon := func() time.Time { return time.Date(2024, 6, 1, 12, 0, 0, 0, time.Local) }
	sim, err := simulation.New(simulation.DefaultConfig(),
		simulation.WithClock(noon),
		simulation.WithLogger(zaptest.NewLogger(t)),
	)
	require.NoError(t, err)
	t.Cleanup(sim.Close)

	m := metrics.New()
	hub := NewHub(m)
	sim.Subscribe(hub.Observe)

	handler, err := New(sim, hub, m, WithAllowedOrigin("http://localhost:3000")).Handler()
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return &fixture{sim: sim, hub: hub, srv: srv}
}

func (f *fixture) get(t *testing.T, path string) (int, []byte) {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, body
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

type envelope struct {
	Type model.EventType `json:"type"`
	Data json.RawMessage `json:"data"`
}

func read(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func send(t *testing.T, conn *websocket.Conn, msg model.ClientMessage) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

func TestOverloadProtection(t *testing.T) {
	f := newFixture(t)
	status, body := f.get(t, "/api/overload-protection")
	require.Equal(t, http.StatusOK, status)

	var report model.OverloadReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, model.OverloadSettings{Threshold: 4000, TripDelay: 5000, SafetyMargin: 500}, report.Settings)
	assert.Equal(t, fuse.MessageNormal, report.Status.Message)
	assert.Nil(t, report.Status.FuseTripTime)
}

func TestEfficiency(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 25; i++ {
		f.sim.ResetSimulation()
	}

	status, body := f.get(t, "/api/efficiency")
	require.Equal(t, http.StatusOK, status)
	var report model.EfficiencyReport
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Equal(t, 100, report.Score)
	assert.Equal(t, model.LevelExcellent, report.Level)
	assert.Len(t, report.History, 20)
	assert.Len(t, report.Badges, 4)

	status, body = f.get(t, "/api/efficiency?limit=5")
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Len(t, report.History, 5)

	// reads never add history.
	assert.Len(t, f.sim.EfficiencyReport(100).History, 25)
}

func TestEfficiency_InvalidLimit(t *testing.T) {
	f := newFixture(t)
	for _, query := range []string{"limit=0", "limit=101", "limit=abc"} {
		status, _ := f.get(t, "/api/efficiency?"+query)
		assert.Equal(t, http.StatusBadRequest, status, query)
	}
}

func TestHouseHealthAndDocument(t *testing.T) {
	f := newFixture(t)

	status, body := f.get(t, "/api/house")
	require.Equal(t, http.StatusOK, status)
	var update model.PowerUpdate
	require.NoError(t, json.Unmarshal(body, &update))
	assert.Len(t, update.HouseLayout.Bedrooms, 2)
	assert.Zero(t, update.Power)

	status, body = f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","clients":0}`, string(body))

	status, body = f.get(t, "/api/openapi.yaml")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "/api/overload-protection")

	status, _ = f.get(t, "/api/history")
	assert.Equal(t, http.StatusNotFound, status)

	status, body = f.get(t, "/metrics")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "house_fuse_state")
}

func TestCORS(t *testing.T) {
	f := newFixture(t)
	req, err := http.NewRequest(http.MethodGet, f.srv.URL+"/api/house", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "http://localhost:3000", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestWebsocket_InitialData(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, model.ClientMessage{Type: model.CommandInitialData})
	env := read(t, conn)
	require.Equal(t, model.EventInitialData, env.Type)

	var data model.InitialData
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, 100, data.EfficiencyScore)
	assert.Len(t, data.Badges, 4)
	assert.Empty(t, data.EfficiencyHistory)
}

func TestWebsocket_ToggleBroadcastAndReject(t *testing.T) {
	f := newFixture(t)
	a := f.dial(t)
	b := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.Len() == 2 }, time.Second, 5*time.Millisecond)

	for _, room := range []string{"bedroom1", "bedroom2"} {
		send(t, a, model.ClientMessage{Type: model.CommandToggleDevice, RoomID: room, DeviceType: model.AC})
		for _, conn := range []*websocket.Conn{a, b} {
			env := read(t, conn)
			require.Equal(t, model.EventPowerUpdate, env.Type)
		}
	}

	// 3000W + 2000W is over the limit.
	send(t, a, model.ClientMessage{Type: model.CommandToggleDevice, RoomID: "washroom", DeviceType: model.WaterHeater})
	env := read(t, a)
	require.Equal(t, model.EventDeviceToggleRejected, env.Type)
	var rejection model.Rejection
	require.NoError(t, json.Unmarshal(env.Data, &rejection))
	assert.Equal(t, "Cannot turn on device. Would exceed 4000W limit.", rejection.Message)

	// unknown devices get no reply at all.
	send(t, a, model.ClientMessage{Type: model.CommandToggleDevice, RoomID: "garage", DeviceType: model.Fan})

	// b saw neither; its next message is the reply to its own request.
	for _, conn := range []*websocket.Conn{a, b} {
		send(t, conn, model.ClientMessage{Type: model.CommandPowerUpdate})
		env := read(t, conn)
		require.Equal(t, model.EventPowerUpdate, env.Type)
		var update model.PowerUpdate
		require.NoError(t, json.Unmarshal(env.Data, &update))
		assert.Equal(t, 3000, update.Power)
	}
}

func TestWebsocket_ResetFuseRejected(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)

	send(t, conn, model.ClientMessage{Type: model.CommandResetFuse})
	env := read(t, conn)
	require.Equal(t, model.EventFuseResetRejected, env.Type)
	assert.JSONEq(t,
		`{"message":"Cannot reset fuse yet. Please wait.","error":"Cannot reset fuse yet. Please wait."}`,
		string(env.Data))
}

func TestWebsocket_SceneTripsAndReset(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t)
	require.Eventually(t, func() bool { return f.hub.Len() == 1 }, time.Second, 5*time.Millisecond)

	send(t, conn, model.ClientMessage{Type: model.CommandApplyScene, Devices: []model.DeviceRef{
		{RoomID: "bedroom1", DeviceType: model.AC},
		{RoomID: "bedroom2", DeviceType: model.AC},
		{RoomID: "washroom", DeviceType: model.WaterHeater},
	}})
	assert.Equal(t, model.EventPowerUpdate, read(t, conn).Type)

	env := read(t, conn)
	require.Equal(t, model.EventFuseTripped, env.Type)
	var trip model.FuseTripped
	require.NoError(t, json.Unmarshal(env.Data, &trip))
	assert.True(t, trip.Tripped)

	// toggling is refused while tripped.
	send(t, conn, model.ClientMessage{Type: model.CommandToggleDevice, RoomID: "kitchen", DeviceType: model.Fridge})
	env = read(t, conn)
	require.Equal(t, model.EventDeviceToggleRejected, env.Type)
	assert.Contains(t, string(env.Data), "Cannot toggle devices while fuse is tripped.")

	send(t, conn, model.ClientMessage{Type: model.CommandResetSimulation})
	env = read(t, conn)
	require.Equal(t, model.EventPowerUpdate, env.Type)
	var update model.PowerUpdate
	require.NoError(t, json.Unmarshal(env.Data, &update))
	assert.Zero(t, update.Power)
	assert.False(t, update.OverloadStatus.FuseTripped)
	assert.Equal(t, 1, update.SessionStats.OverloadCount)
}
