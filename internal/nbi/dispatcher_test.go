package nbi

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/internal/emitter"
	"github.com/signalsfoundry/energy-network-editor/internal/journal"
)

const heatNetwork = `{
  "id": "es-heat",
  "name": "Heat network",
  "carriers": [
    {"id": "heat", "name": "Heat", "commodity": "Heat"},
    {"id": "elec", "name": "Electricity", "commodity": "Electricity"}
  ],
  "area": {
    "id": "root",
    "name": "Root",
    "assets": [
      {"id": "src", "name": "Boiler", "type": "GasHeater", "power": 1000,
       "geometry": {"kind": "Point", "points": [{"lat": 52.0, "lng": 4.0}]},
       "ports": [{"id": "src-out", "type": "OutPort", "carrier": "heat", "connectedTo": ["pipe-in"]}]},
      {"id": "pipe", "name": "Pipe", "type": "Pipe", "length": 200,
       "geometry": {"kind": "Line", "points": [{"lat": 52.0, "lng": 4.0}, {"lat": 52.0, "lng": 4.005}, {"lat": 52.0, "lng": 4.01}]},
       "ports": [
         {"id": "pipe-in", "type": "InPort", "carrier": "heat"},
         {"id": "pipe-out", "type": "OutPort", "carrier": "heat", "connectedTo": ["demand-in"]}
       ]},
      {"id": "house", "name": "House", "type": "Building",
       "geometry": {"kind": "Polygon", "points": [{"lat": 52.0, "lng": 4.01}, {"lat": 52.001, "lng": 4.01}, {"lat": 52.001, "lng": 4.011}]},
       "assets": [
         {"id": "demand", "name": "Demand", "type": "HeatingDemand", "power": 500,
          "ports": [{"id": "demand-in", "type": "InPort"}]}
       ]}
    ]
  }
}`

type recordingEmitter struct {
	mu     sync.Mutex
	events []emitter.Event
}

func (r *recordingEmitter) Emit(_ context.Context, events ...emitter.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingEmitter) take() []emitter.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func names(events []emitter.Event) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Name)
	}
	return out
}

type memJournal struct {
	mu      sync.Mutex
	entries []journal.Entry
}

func (j *memJournal) Append(_ context.Context, e journal.Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, e)
	return nil
}

func (j *memJournal) last() journal.Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.entries[len(j.entries)-1]
}

type countingMetrics struct {
	mu     sync.Mutex
	ok     map[string]int
	failed map[string]int
}

func (m *countingMetrics) ObserveCommand(cmd string, err error, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ok == nil {
		m.ok, m.failed = map[string]int{}, map[string]int{}
	}
	if err != nil {
		m.failed[cmd]++
		return
	}
	m.ok[cmd]++
}

type fixture struct {
	d       *Dispatcher
	events  *recordingEmitter
	journal *memJournal
	metrics *countingMetrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{events: &recordingEmitter{}, journal: &memJournal{}, metrics: &countingMetrics{}}
	f.d = NewDispatcher(state.NewRegistry(), f.events,
		WithJournal(f.journal),
		WithCommandMetrics(f.metrics),
	)
	_, err := f.d.Execute(context.Background(), map[string]any{
		"cmd":     CmdLoad,
		"modelId": "m1",
		"system":  heatNetwork,
	})
	require.NoError(t, err)
	f.events.take()
	return f
}

func (f *fixture) exec(cmd map[string]any) (map[string]any, error) {
	if _, ok := cmd["modelId"]; !ok {
		cmd["modelId"] = "m1"
	}
	return f.d.Execute(context.Background(), cmd)
}

func TestLoadPushesFullProjection(t *testing.T) {
	f := &fixture{events: &recordingEmitter{}}
	f.d = NewDispatcher(state.NewRegistry(), f.events)

	res, err := f.d.Execute(context.Background(), map[string]any{
		"cmd":     CmdLoad,
		"modelId": "m1",
		"system":  heatNetwork,
	})
	require.NoError(t, err)
	assert.Equal(t, "es-heat", res["systemId"])
	assert.Equal(t, 4, res["assets"])
	assert.Equal(t, uint64(1), res["version"])

	got := names(f.events.take())
	require.NotEmpty(t, got)
	assert.Equal(t, emitter.EventClearProjection, got[0])
	assert.Contains(t, got, emitter.EventAreaBuildingList)
	assert.Contains(t, got, emitter.EventAddConnections)

	_, err = f.d.Execute(context.Background(), map[string]any{
		"cmd":     CmdLoad,
		"modelId": "broken",
		"system":  "{",
	})
	require.ErrorIs(t, err, ErrInvalidCommand)
}

func TestConnectTypeMismatchAlerts(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(map[string]any{"cmd": CmdConnectPorts, "port1Id": "src-out", "port2Id": "pipe-out"})
	require.ErrorIs(t, err, core.ErrTypeMismatch)

	events := f.events.take()
	require.Len(t, events, 1)
	alert, ok := events[0].Payload.(emitter.Alert)
	require.True(t, ok)
	assert.Equal(t, emitter.LevelError, alert.Level)
	assert.Equal(t, KindTypeMismatch, alert.Kind)
	assert.Equal(t, uint64(1), events[0].Version, "failed command must not bump the version")

	entry := f.journal.last()
	assert.Equal(t, CmdConnectPorts, entry.Command)
	assert.Equal(t, journal.OutcomeError, entry.Outcome)
	assert.JSONEq(t, `{"cmd":"connect_ports","modelId":"m1","port1Id":"src-out","port2Id":"pipe-out"}`, entry.Params)
	assert.Equal(t, 1, f.metrics.failed[CmdConnectPorts])
}

func TestSplitConductorEmitsDelta(t *testing.T) {
	f := newFixture(t)

	res, err := f.exec(map[string]any{
		"cmd":         CmdSplitConductor,
		"conductorId": "pipe",
		"location":    map[string]any{"lat": 52.0, "lng": 4.005},
		"mode":        "connect",
		"version":     float64(1),
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res["version"])
	assert.Len(t, res["created"], 2)

	events := f.events.take()
	got := names(events)
	assert.Contains(t, got, emitter.EventDeleteObject)
	assert.Contains(t, got, emitter.EventAddObjects)
	assert.Contains(t, got, emitter.EventAddConnections)
	for _, ev := range events {
		if ev.Name == emitter.EventDeleteObject {
			assert.Equal(t, map[string]string{"id": "pipe"}, ev.Payload)
		}
		assert.Equal(t, uint64(2), ev.Version)
	}

	proj, err := f.exec(map[string]any{"cmd": CmdGetProjection})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), proj["version"])
}

func TestStaleVersionIsRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(map[string]any{"cmd": CmdRemovePort, "portId": "pipe-out", "version": float64(7)})
	require.ErrorIs(t, err, state.ErrVersionConflict)

	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, KindVersionConflict, events[0].Payload.(emitter.Alert).Kind)

	_, err = f.exec(map[string]any{"cmd": CmdRemovePort, "portId": "pipe-out", "version": float64(1)})
	require.NoError(t, err)
}

func TestRemoveConnectionRedrawsLayers(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(map[string]any{
		"cmd":         CmdRemoveConnection,
		"fromAssetId": "pipe",
		"fromPortId":  "src-out",
		"toAssetId":   "pipe",
		"toPortId":    "pipe-in",
	})
	require.ErrorIs(t, err, core.ErrNotFound, "src-out does not belong to pipe")
	f.events.take()

	res, err := f.exec(map[string]any{
		"cmd":         CmdRemoveConnection,
		"fromAssetId": "pipe",
		"fromPortId":  "pipe-out",
		"toAssetId":   "demand",
		"toPortId":    "demand-in",
		"buildingId":  "house",
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res["version"])

	events := f.events.take()
	assert.Equal(t, []string{
		emitter.EventClearConnections,
		emitter.EventAddConnections,
		emitter.EventClearConnections,
		emitter.EventAddConnections,
	}, names(events))

	global := events[1].Payload.(emitter.ConnectionList)
	assert.Empty(t, global.BuildingID)
	require.Len(t, global.Connections, 1)
	assert.ElementsMatch(t, []string{"src-out", "pipe-in"},
		[]string{global.Connections[0].FromPortID, global.Connections[0].ToPortID})
	assert.Equal(t, "house", events[3].Payload.(emitter.ConnectionList).BuildingID)

	_, err = f.exec(map[string]any{"cmd": CmdRemoveConnectionByPort, "fromPortId": "pipe-in", "toPortId": "src-out"})
	require.NoError(t, err)
	_, err = f.exec(map[string]any{"cmd": CmdRemoveConnectionByPort, "fromPortId": "pipe-in", "toPortId": "src-out"})
	require.Error(t, err, "edge is already gone")
}

func TestSetCarrierPreconditions(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec(map[string]any{"cmd": CmdSetCarrier, "assetId": "house", "carrierId": "elec"})
	require.ErrorIs(t, err, core.ErrValidation)
	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, KindValidation, events[0].Payload.(emitter.Alert).Kind)

	res, err := f.exec(map[string]any{"cmd": CmdSetCarrier, "assetId": "demand", "carrierId": "heat"})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), res["version"])
	assert.Contains(t, names(f.events.take()), emitter.EventUpdateAsset)
}

func TestBuildingEditorAndRefresh(t *testing.T) {
	f := newFixture(t)

	res, err := f.exec(map[string]any{"cmd": CmdBuildingEditor, "id": "house"})
	require.NoError(t, err)
	assert.Equal(t, 1, res["assets"])
	events := f.events.take()
	require.Len(t, events, 1)
	assert.Equal(t, emitter.EventBuildingEditor, events[0].Name)

	_, err = f.exec(map[string]any{"cmd": CmdBuildingEditor, "id": "nowhere"})
	require.ErrorIs(t, err, core.ErrNotFound)
	f.events.take()

	_, err = f.exec(map[string]any{"cmd": CmdRefresh})
	require.NoError(t, err)
	assert.Equal(t, emitter.EventClearProjection, names(f.events.take())[0])

	res, err = f.exec(map[string]any{"cmd": CmdRedrawConnections})
	require.NoError(t, err)
	assert.Equal(t, 2, res["connections"])
	assert.Equal(t, []string{emitter.EventClearConnections, emitter.EventAddConnections}, names(f.events.take()))
}

func TestValidateReportsWarnings(t *testing.T) {
	f := newFixture(t)

	res, err := f.exec(map[string]any{"cmd": CmdValidate})
	require.NoError(t, err)
	warnings, ok := res["warnings"].([]core.Warning)
	require.True(t, ok)
	assert.NotEmpty(t, warnings, "demand-in has no carrier")
	for _, ev := range f.events.take() {
		assert.Equal(t, emitter.EventAlert, ev.Name)
		assert.Equal(t, emitter.LevelWarning, ev.Payload.(emitter.Alert).Level)
	}
}

func TestMalformedCommands(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		cmd  map[string]any
		want error
	}{
		{name: "no cmd", cmd: map[string]any{"modelId": "m1"}, want: ErrInvalidCommand},
		{name: "unknown", cmd: map[string]any{"cmd": "teleport", "modelId": "m1"}, want: ErrUnknownCommand},
		{name: "no model id", cmd: map[string]any{"cmd": CmdValidate}, want: ErrInvalidCommand},
		{name: "model not loaded", cmd: map[string]any{"cmd": CmdValidate, "modelId": "m9"}, want: state.ErrNoModel},
		{name: "bad version", cmd: map[string]any{"cmd": CmdValidate, "modelId": "m1", "version": -1.0}, want: ErrInvalidCommand},
		{name: "bad location", cmd: map[string]any{"cmd": CmdSplitConductor, "modelId": "m1", "conductorId": "pipe", "location": "here"}, want: ErrInvalidCommand},
		{name: "bad mode", cmd: map[string]any{"cmd": CmdSplitConductor, "modelId": "m1", "conductorId": "pipe",
			"location": map[string]any{"lat": 52.0, "lng": 4.005}, "mode": "sideways"}, want: core.ErrValidation},
		{name: "port id type", cmd: map[string]any{"cmd": CmdRemovePort, "modelId": "m1", "portId": 12.0}, want: ErrInvalidCommand},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.d.Execute(ctx, tc.cmd)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.want), "got %v, want %v", err, tc.want)
		})
	}

	assert.Equal(t, []string{
		CmdBuildingEditor, CmdConnectPorts, CmdGetProjection, CmdLoad, CmdRedrawConnections,
		CmdRefresh, CmdRemoveConnection, CmdRemoveConnectionByPort, CmdRemovePort,
		CmdSetCarrier, CmdSplitConductor, CmdValidate,
	}, f.d.Commands())
}
