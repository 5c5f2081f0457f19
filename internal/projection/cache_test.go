package projection

import (
	"context"
	"fmt"
	"sort"
	"testing"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// network builds source -> pipe -> demand in one area, all on heat.
func network(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase()
	steps := []func() error{
		func() error { return store.AddArea(&model.Area{ID: "root", Name: "Root"}) },
		func() error { return store.AddCarrier(&model.Carrier{ID: "heat", Commodity: model.CommodityHeat}) },
		func() error {
			return store.AddAsset(&model.Asset{ID: "src", Type: "HeatProducer", ContainerID: "root",
				Geometry: model.NewPoint(model.Coord{Lat: 0, Lng: 0})})
		},
		func() error {
			return store.AddAsset(&model.Asset{ID: "pipe", Type: "Pipe", ContainerID: "root", Length: 200,
				Geometry: model.NewLine(model.Coord{Lat: 0, Lng: 0}, model.Coord{Lat: 0, Lng: 1}, model.Coord{Lat: 0, Lng: 2})})
		},
		func() error {
			return store.AddAsset(&model.Asset{ID: "dem", Type: "HeatingDemand", ContainerID: "root",
				Geometry: model.NewPoint(model.Coord{Lat: 0, Lng: 2})})
		},
		func() error { return store.AddPort(&model.Port{ID: "src-out", Kind: model.OutPort, AssetID: "src", CarrierID: "heat"}) },
		func() error { return store.AddPort(&model.Port{ID: "pipe-in", Kind: model.InPort, AssetID: "pipe", CarrierID: "heat"}) },
		func() error { return store.AddPort(&model.Port{ID: "pipe-out", Kind: model.OutPort, AssetID: "pipe", CarrierID: "heat"}) },
		func() error { return store.AddPort(&model.Port{ID: "dem-in", Kind: model.InPort, AssetID: "dem", CarrierID: "heat"}) },
		func() error { return store.Connect("src-out", "pipe-in") },
		func() error { return store.Connect("pipe-out", "dem-in") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("fixture step %d failed: %v", i, err)
		}
	}
	return store
}

func seqIDs() core.IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("gen-%d", n)
	}
}

func loaded(t *testing.T, store *kb.KnowledgeBase) *Cache {
	t.Helper()
	proj, err := core.NewFlattener(nil).Flatten(context.Background(), store)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	c := New()
	c.Replace(proj)
	return c
}

func connectionSet(conns []model.Connection) []string {
	out := make([]string, 0, len(conns))
	for _, c := range conns {
		out = append(out, fmt.Sprintf("%s/%s->%s/%s@%v>%v", c.FromAssetID, c.FromPortID, c.ToAssetID, c.ToPortID, c.FromCoord, c.ToCoord))
	}
	sort.Strings(out)
	return out
}

func assetSet(entries []model.AssetEntry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		var pts []model.Coord
		if e.Geometry != nil {
			pts = e.Geometry.Points
		}
		out = append(out, fmt.Sprintf("%s:%d@%v", e.ID, len(e.Ports), pts))
	}
	sort.Strings(out)
	return out
}

// assertMatchesFullFlatten checks that the incrementally maintained view
// equals a fresh flatten of the same store.
func assertMatchesFullFlatten(t *testing.T, c *Cache, store *kb.KnowledgeBase) {
	t.Helper()
	full, err := core.NewFlattener(nil).Flatten(context.Background(), store)
	if err != nil {
		t.Fatalf("Flatten failed: %v", err)
	}
	snap := c.Snapshot()

	gotConns, wantConns := connectionSet(snap.Connections), connectionSet(full.Connections)
	if fmt.Sprint(gotConns) != fmt.Sprint(wantConns) {
		t.Fatalf("connections diverged\n got: %v\nwant: %v", gotConns, wantConns)
	}
	gotAssets, wantAssets := assetSet(snap.Assets), assetSet(full.Assets)
	if fmt.Sprint(gotAssets) != fmt.Sprint(wantAssets) {
		t.Fatalf("assets diverged\n got: %v\nwant: %v", gotAssets, wantAssets)
	}
}

func TestReplaceAndSnapshot(t *testing.T) {
	c := New()
	if c.Ready() {
		t.Fatalf("new cache must not be ready")
	}
	store := network(t)
	c = loaded(t, store)
	if !c.Ready() {
		t.Fatalf("cache must be ready after Replace")
	}
	assets, conns := c.Len()
	if assets != 3 || conns != 2 {
		t.Fatalf("Len()=(%d,%d), want (3,2)", assets, conns)
	}

	snap := c.Snapshot()
	snap.Assets[0].Name = "mutated"
	if got := c.Snapshot().Assets[0].Name; got == "mutated" {
		t.Fatalf("Snapshot must return a copy")
	}
}

func TestApplyNilChangeSet(t *testing.T) {
	c := loaded(t, network(t))
	if d := c.Apply(nil, nil); !d.Empty() {
		t.Fatalf("expected empty delta, got %+v", d)
	}
}

func TestApplySplitRewritesConnections(t *testing.T) {
	store := network(t)
	c := loaded(t, store)
	m := core.NewMutator(store, core.WithIDGenerator(seqIDs()))

	cs, err := m.SplitConductor(context.Background(), core.SplitRequest{
		ConductorID: "pipe",
		Location:    model.Coord{Lat: 0, Lng: 1},
		Mode:        core.SplitConnect,
	})
	if err != nil {
		t.Fatalf("SplitConductor failed: %v", err)
	}
	d := c.Apply(store, cs)

	if len(d.RemovedAssets) != 1 || d.RemovedAssets[0] != "pipe" {
		t.Fatalf("expected pipe removed, got %v", d.RemovedAssets)
	}
	if len(d.AddedAssets) != 2 {
		t.Fatalf("expected two clones added, got %+v", d.AddedAssets)
	}
	// Both external edges are rewritten and the split edge is new.
	if len(d.RemovedConnections) != 2 || len(d.AddedConnections) != 3 {
		t.Fatalf("expected 2 removed / 3 added connections, got %d / %d",
			len(d.RemovedConnections), len(d.AddedConnections))
	}
	if _, ok := c.Asset("pipe"); ok {
		t.Fatalf("original conductor still cached")
	}
	assertMatchesFullFlatten(t, c, store)
}

func TestApplyRemovePortAndConnection(t *testing.T) {
	store := network(t)
	c := loaded(t, store)
	m := core.NewMutator(store)
	ctx := context.Background()

	cs, err := m.RemoveConnection(ctx, "dem-in", "pipe-out")
	if err != nil {
		t.Fatalf("RemoveConnection failed: %v", err)
	}
	d := c.Apply(store, cs)
	if len(d.RemovedConnections) != 1 || len(d.AddedConnections) != 0 {
		t.Fatalf("unexpected delta %+v", d)
	}
	if len(d.UpdatedAssets) != 2 {
		t.Fatalf("both endpoint assets must be updated, got %+v", d.UpdatedAssets)
	}
	assertMatchesFullFlatten(t, c, store)

	cs, err = m.RemovePort(ctx, "src-out")
	if err != nil {
		t.Fatalf("RemovePort failed: %v", err)
	}
	d = c.Apply(store, cs)
	if len(d.RemovedConnections) != 1 {
		t.Fatalf("expected the src edge removed, got %+v", d.RemovedConnections)
	}
	if _, conns := c.Len(); conns != 0 {
		t.Fatalf("expected no connections left, got %d", conns)
	}
	assertMatchesFullFlatten(t, c, store)
}

func TestApplyConnectAddsRecord(t *testing.T) {
	store := network(t)
	m := core.NewMutator(store)
	ctx := context.Background()
	if _, err := m.RemoveConnection(ctx, "src-out", "pipe-in"); err != nil {
		t.Fatalf("RemoveConnection failed: %v", err)
	}
	c := loaded(t, store)

	cs, err := m.ConnectPorts(ctx, "pipe-in", "src-out")
	if err != nil {
		t.Fatalf("ConnectPorts failed: %v", err)
	}
	d := c.Apply(store, cs)
	if len(d.AddedConnections) != 1 {
		t.Fatalf("expected one added connection, got %+v", d.AddedConnections)
	}
	got := d.AddedConnections[0]
	if got.FromPortID != "src-out" || got.ToPortID != "pipe-in" {
		t.Fatalf("connection must run from the OutPort, got %+v", got)
	}
	assertMatchesFullFlatten(t, c, store)
}

// buildingNetwork puts a world-frame pipe and a demand without geometry
// inside one building, so the demand is placed by the synthetic layout.
func buildingNetwork(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase()
	square := model.NewPolygon(
		model.Coord{Lat: 0, Lng: 0}, model.Coord{Lat: 0, Lng: 3},
		model.Coord{Lat: 3, Lng: 3}, model.Coord{Lat: 3, Lng: 0},
	)
	steps := []func() error{
		func() error { return store.AddArea(&model.Area{ID: "root", Name: "Root"}) },
		func() error { return store.AddCarrier(&model.Carrier{ID: "heat", Commodity: model.CommodityHeat}) },
		func() error {
			return store.AddAsset(&model.Asset{ID: "bld", Type: "Building", ContainerID: "root", Geometry: square})
		},
		func() error {
			return store.AddAsset(&model.Asset{ID: "c", Type: "Pipe", ContainerID: "bld", Length: 100,
				Geometry: model.NewLine(model.Coord{Lat: 1, Lng: 0}, model.Coord{Lat: 1, Lng: 2})})
		},
		func() error { return store.AddAsset(&model.Asset{ID: "d", Type: "HeatingDemand", ContainerID: "bld"}) },
		func() error { return store.AddPort(&model.Port{ID: "c-in", Kind: model.InPort, AssetID: "c", CarrierID: "heat"}) },
		func() error { return store.AddPort(&model.Port{ID: "c-out", Kind: model.OutPort, AssetID: "c", CarrierID: "heat"}) },
		func() error { return store.AddPort(&model.Port{ID: "d-in", Kind: model.InPort, AssetID: "d", CarrierID: "heat"}) },
		func() error { return store.Connect("c-out", "d-in") },
	}
	for i, step := range steps {
		if err := step(); err != nil {
			t.Fatalf("fixture step %d failed: %v", i, err)
		}
	}
	return store
}

func TestApplyRelaysOutBuildingSiblings(t *testing.T) {
	store := buildingNetwork(t)
	c := loaded(t, store)
	before, ok := c.Asset("d")
	if !ok || before.Geometry.IsEmpty() {
		t.Fatalf("demand should be placed on the building canvas, got %+v", before)
	}

	m := core.NewMutator(store, core.WithIDGenerator(seqIDs()))
	cs, err := m.SplitConductor(context.Background(), core.SplitRequest{
		ConductorID: "c",
		Location:    model.Coord{Lat: 1, Lng: 1},
		Mode:        core.SplitAddJoint,
	})
	if err != nil {
		t.Fatalf("SplitConductor failed: %v", err)
	}
	d := c.Apply(store, cs)

	after, _ := c.Asset("d")
	if after.Geometry.Points[0] == before.Geometry.Points[0] {
		t.Fatalf("demand slot did not move after the joint was added: %v", after.Geometry.Points)
	}
	moved := false
	for _, e := range d.UpdatedAssets {
		if e.ID == "d" {
			moved = true
		}
	}
	if !moved {
		t.Fatalf("relaid-out sibling missing from delta updates: %+v", d.UpdatedAssets)
	}
	assertMatchesFullFlatten(t, c, store)

	// Removing the joint shrinks the canvas columns again.
	removal := &core.ChangeSet{}
	for _, e := range d.AddedAssets {
		if a := store.GetAsset(e.ID); a != nil && a.Kind == model.KindJoint {
			removal.RemovedAssets = append(removal.RemovedAssets, e.ID)
		} else {
			removal.UpdatedAssets = append(removal.UpdatedAssets, e.ID)
		}
	}
	if len(removal.RemovedAssets) != 1 {
		t.Fatalf("expected one joint among added assets %+v", d.AddedAssets)
	}
	jointID := removal.RemovedAssets[0]
	if err := store.Update(func(tx *kb.KnowledgeBase) error { return tx.RemoveAsset(jointID, true) }); err != nil {
		t.Fatalf("remove joint: %v", err)
	}
	c.Apply(store, removal)
	if got, _ := c.Asset("d"); got.Geometry.Points[0] != before.Geometry.Points[0] {
		t.Fatalf("demand should return to its original slot, got %v want %v", got.Geometry.Points, before.Geometry.Points)
	}
	assertMatchesFullFlatten(t, c, store)
}
