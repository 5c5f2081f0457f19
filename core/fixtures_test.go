package core

import (
	"fmt"
	"testing"

	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// newTestStore returns a store with a root area "root" and the carriers
// "elec" and "heat".
func newTestStore(t *testing.T) *kb.KnowledgeBase {
	t.Helper()
	store := kb.NewKnowledgeBase()
	store.SetSystem(model.EnergySystem{ID: "es-1", Name: "test"})
	if err := store.AddArea(&model.Area{ID: "root", Name: "Root"}); err != nil {
		t.Fatalf("AddArea(root) failed: %v", err)
	}
	for _, c := range []*model.Carrier{
		{ID: "elec", Name: "Electricity", Commodity: model.CommodityElectricity},
		{ID: "heat", Name: "Heat", Commodity: model.CommodityHeat},
	} {
		if err := store.AddCarrier(c); err != nil {
			t.Fatalf("AddCarrier(%s) failed: %v", c.ID, err)
		}
	}
	return store
}

func mustAsset(t *testing.T, store *kb.KnowledgeBase, id, typ, container string, geom *model.Geometry) *model.Asset {
	t.Helper()
	a := &model.Asset{ID: id, Name: id, Type: typ, ContainerID: container, Geometry: geom}
	if err := store.AddAsset(a); err != nil {
		t.Fatalf("AddAsset(%s) failed: %v", id, err)
	}
	return a
}

func mustPort(t *testing.T, store *kb.KnowledgeBase, id, assetID string, kind model.PortKind, carrier string) *model.Port {
	t.Helper()
	p := &model.Port{ID: id, Name: string(kind), Kind: kind, AssetID: assetID, CarrierID: carrier}
	if err := store.AddPort(p); err != nil {
		t.Fatalf("AddPort(%s) failed: %v", id, err)
	}
	return p
}

func mustConnect(t *testing.T, store *kb.KnowledgeBase, a, b string) {
	t.Helper()
	if err := store.Connect(a, b); err != nil {
		t.Fatalf("Connect(%s, %s) failed: %v", a, b, err)
	}
}

// seqIDs yields id-1, id-2, ... so tests can predict generated ids.
func seqIDs() IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func pt(x, y float64) model.Coord { return model.Coord{Lat: y, Lng: x} }

// carriers snapshots every port's carrier.
func carriers(store *kb.KnowledgeBase) map[string]string {
	out := make(map[string]string)
	for _, a := range store.Assets() {
		for _, p := range store.PortsOf(a.ID) {
			out[p.ID] = p.CarrierID
		}
	}
	return out
}
