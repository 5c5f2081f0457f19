//go:build perf || perf_large

package perf

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/signalsfoundry/energy-network-editor/internal/editor/state"
	"github.com/signalsfoundry/energy-network-editor/internal/emitter"
	"github.com/signalsfoundry/energy-network-editor/internal/nbi"
)

type perfConfig struct {
	Conductors int
	Splits     int
}

const modelID = "perf"

func benchmarkLoad(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	system := chainSystem(b, cfg.Conductors)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		d := newDispatcher()
		if _, err := d.Execute(ctx, map[string]any{
			"cmd":     nbi.CmdLoad,
			"modelId": modelID,
			"system":  system,
		}); err != nil {
			b.Fatalf("load_esdl: %v", err)
		}
	}
}

func benchmarkSplits(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	system := chainSystem(b, cfg.Conductors)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		d := loaded(b, system)
		b.StartTimer()

		for j := 0; j < cfg.Splits; j++ {
			if _, err := d.Execute(ctx, map[string]any{
				"cmd":         nbi.CmdSplitConductor,
				"modelId":     modelID,
				"conductorId": fmt.Sprintf("pipe-%d", j),
				"location":    map[string]any{"lat": 52.0, "lng": lngAt(j) + step/2},
			}); err != nil {
				b.Fatalf("split_conductor(pipe-%d): %v", j, err)
			}
		}
	}
}

func benchmarkRemoveConnections(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	system := chainSystem(b, cfg.Conductors)
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		b.StopTimer()
		d := loaded(b, system)
		b.StartTimer()

		for j := 0; j < cfg.Splits && j+1 < cfg.Conductors; j++ {
			if _, err := d.Execute(ctx, map[string]any{
				"cmd":        nbi.CmdRemoveConnectionByPort,
				"modelId":    modelID,
				"fromPortId": fmt.Sprintf("pipe-%d-out", j),
				"toPortId":   fmt.Sprintf("pipe-%d-in", j+1),
			}); err != nil {
				b.Fatalf("remove_connection_portids(%d): %v", j, err)
			}
		}
	}
}

func benchmarkProjection(b *testing.B, cfg perfConfig) {
	ctx := context.Background()
	d := loaded(b, chainSystem(b, cfg.Conductors))
	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		res, err := d.Execute(ctx, map[string]any{"cmd": nbi.CmdRefresh, "modelId": modelID})
		if err != nil {
			b.Fatalf("refresh_esdl: %v", err)
		}
		if res == nil {
			b.Fatalf("refresh_esdl returned no result")
		}
	}
}

// newDispatcher emits into a broker without subscribers, so event
// construction is measured but nothing is delivered.
func newDispatcher() *nbi.Dispatcher {
	return nbi.NewDispatcher(state.NewRegistry(), emitter.NewBroker())
}

func loaded(b *testing.B, system string) *nbi.Dispatcher {
	b.Helper()
	d := newDispatcher()
	if _, err := d.Execute(context.Background(), map[string]any{
		"cmd":     nbi.CmdLoad,
		"modelId": modelID,
		"system":  system,
	}); err != nil {
		b.Fatalf("seed load_esdl: %v", err)
	}
	return d
}

const step = 0.001

func lngAt(i int) float64 { return 4.0 + float64(i)*step }

// chainSystem builds source -> pipe-0 -> ... -> pipe-(n-1) -> sink.
func chainSystem(b *testing.B, n int) string {
	b.Helper()
	point := func(i int) map[string]any { return map[string]any{"lat": 52.0, "lng": lngAt(i)} }
	port := func(id, typ string, to ...string) map[string]any {
		p := map[string]any{"id": id, "type": typ, "carrier": "heat"}
		if len(to) > 0 {
			p["connectedTo"] = to
		}
		return p
	}

	assets := make([]map[string]any, 0, n+2)
	assets = append(assets, map[string]any{
		"id":              "source",
		"type":            "GasHeater",
		"power":           1e6,
		"controlStrategy": "DrivenByDemand",
		"geometry":        map[string]any{"kind": "Point", "points": []any{point(0)}},
		"ports":           []any{port("source-out", "OutPort", "pipe-0-in")},
	})
	for i := 0; i < n; i++ {
		next := "sink-in"
		if i+1 < n {
			next = fmt.Sprintf("pipe-%d-in", i+1)
		}
		assets = append(assets, map[string]any{
			"id":       fmt.Sprintf("pipe-%d", i),
			"type":     "Pipe",
			"length":   100,
			"geometry": map[string]any{"kind": "Line", "points": []any{point(i), point(i + 1)}},
			"ports": []any{
				port(fmt.Sprintf("pipe-%d-in", i), "InPort"),
				port(fmt.Sprintf("pipe-%d-out", i), "OutPort", next),
			},
		})
	}
	assets = append(assets, map[string]any{
		"id":       "sink",
		"type":     "HeatingDemand",
		"power":    1e6,
		"geometry": map[string]any{"kind": "Point", "points": []any{point(n)}},
		"ports":    []any{port("sink-in", "InPort")},
	})

	data, err := json.Marshal(map[string]any{
		"id":       "es-perf",
		"name":     "Chain",
		"carriers": []any{map[string]any{"id": "heat", "name": "Heat", "commodity": "Heat"}},
		"area":     map[string]any{"id": "root", "name": "Root", "assets": assets},
	})
	if err != nil {
		b.Fatalf("marshal system: %v", err)
	}
	return string(data)
}
