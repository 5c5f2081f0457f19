package emitter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/projection"
	"github.com/signalsfoundry/energy-network-editor/model"
)

func TestBrokerRoutesByModel(t *testing.T) {
	b := NewBroker()
	a := b.Subscribe("m1")
	other := b.Subscribe("m2")
	all := b.Subscribe("")

	b.Emit(context.Background(), Event{Name: EventAlert, ModelID: "m1"})

	require.Len(t, a.C, 1)
	assert.Len(t, other.C, 0)
	require.Len(t, all.C, 1)

	ev := <-a.C
	assert.Equal(t, EventAlert, ev.Name)
	assert.Equal(t, 1, b.Subscribers("m1"))
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker(WithBuffer(2))
	sub := b.Subscribe("m1")

	for i := 0; i < 5; i++ {
		b.Emit(context.Background(), Event{Name: EventUpdateAsset, ModelID: "m1"})
	}
	assert.Len(t, sub.C, 2)
	assert.Equal(t, uint64(3), sub.Dropped())
}

func TestBrokerUnsubscribeAndClose(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe("m1")
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	_, open := <-sub.C
	assert.False(t, open, "channel must be closed after Unsubscribe")
	assert.Equal(t, 0, b.Subscribers("m1"))

	live := b.Subscribe("m1")
	b.Close()
	_, open = <-live.C
	assert.False(t, open, "Close must end live subscriptions")

	// No panic on emit or subscribe after close.
	b.Emit(context.Background(), Event{Name: EventAlert, ModelID: "m1"})
	late := b.Subscribe("m1")
	_, open = <-late.C
	assert.False(t, open)
}

func TestEventsForDeltaOrder(t *testing.T) {
	d := projection.Delta{
		AddedAssets:        []model.AssetEntry{{ID: "a"}},
		UpdatedAssets:      []model.AssetEntry{{ID: "u1"}, {ID: "u2"}},
		RemovedAssets:      []string{"r"},
		AddedConnections:   []model.Connection{{FromPortID: "x", ToPortID: "y"}},
		RemovedConnections: []model.Connection{{FromPortID: "x", ToPortID: "z"}},
	}
	events := EventsForDelta("m1", 7, d)

	var names []string
	for _, ev := range events {
		names = append(names, ev.Name)
		assert.Equal(t, "m1", ev.ModelID)
		assert.Equal(t, uint64(7), ev.Version)
	}
	assert.Equal(t, []string{
		EventRemoveConnections,
		EventDeleteObject,
		EventAddObjects,
		EventUpdateAsset,
		EventUpdateAsset,
		EventAddConnections,
	}, names)

	assert.Empty(t, EventsForDelta("m1", 1, projection.Delta{}))
}

func TestWarningEvents(t *testing.T) {
	events := WarningEvents("m1", 3, []core.Warning{{
		Code:    core.WarnCarrierMismatch,
		AssetID: "a",
		PortID:  "p",
		Message: "mismatch",
	}})
	require.Len(t, events, 1)
	alert, ok := events[0].Payload.(Alert)
	require.True(t, ok)
	assert.Equal(t, LevelWarning, alert.Level)
	assert.Equal(t, string(core.WarnCarrierMismatch), alert.Kind)
	assert.Equal(t, "p", alert.PortID)
}

func TestProjectionEvents(t *testing.T) {
	p := &core.Projection{
		Index: []model.IndexEntry{{Kind: model.IndexArea, ID: "root"}},
	}
	events := ProjectionEvents("m1", 1, p)
	require.Len(t, events, 5)
	assert.Equal(t, EventClearProjection, events[0].Name)
	assert.Equal(t, EventAreaBuildingList, events[1].Name)
	assert.Equal(t, EventAddConnections, events[4].Name)

	scoped := ConnectionEvents("m1", 1, "bld", nil)
	require.Len(t, scoped, 2)
	assert.Equal(t, "bld", scoped[0].Payload.(ConnectionList).BuildingID)
}
