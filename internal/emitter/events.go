// Package emitter pushes projection changes to the clients editing a
// model. Events are fire-and-forget: a slow client loses events rather
// than blocking the editor.
package emitter

import (
	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/internal/projection"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// Event names understood by the map client.
const (
	EventAddObjects        = "add_esdl_objects"
	EventUpdateAsset       = "update_asset"
	EventDeleteObject      = "delete_esdl_object"
	EventAddConnections    = "add_connections"
	EventRemoveConnections = "remove_connections"
	EventClearConnections  = "clear_connections"
	EventAreaBuildingList  = "area_bld_list"
	EventBuildingEditor    = "building_editor"
	EventClearProjection   = "clear_projection"
	EventAlert             = "alert"
)

// Alert levels.
const (
	LevelError   = "error"
	LevelWarning = "warning"
	LevelInfo    = "info"
)

// Event is one message for the clients of a model.
type Event struct {
	Name    string `json:"event"`
	ModelID string `json:"model_id"`
	Version uint64 `json:"version"`
	Payload any    `json:"payload,omitempty"`
}

// Alert is the payload of an alert event.
type Alert struct {
	Level   string `json:"level"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
	AssetID string `json:"asset_id,omitempty"`
	PortID  string `json:"port_id,omitempty"`
}

// ConnectionList is the payload of the connection events. BuildingID is
// set when the list belongs to a building editor view.
type ConnectionList struct {
	BuildingID  string             `json:"building_id,omitempty"`
	Connections []model.Connection `json:"connections"`
}

// AlertEvent wraps a single alert.
func AlertEvent(modelID string, version uint64, a Alert) Event {
	return Event{Name: EventAlert, ModelID: modelID, Version: version, Payload: a}
}

// WarningEvents turns non-fatal findings into warning alerts.
func WarningEvents(modelID string, version uint64, warnings []core.Warning) []Event {
	out := make([]Event, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, AlertEvent(modelID, version, Alert{
			Level:   LevelWarning,
			Kind:    string(w.Code),
			Message: w.Message,
			AssetID: w.AssetID,
			PortID:  w.PortID,
		}))
	}
	return out
}

// EventsForDelta orders a delta the way the client applies it: deletes
// first so re-added ids do not collide.
func EventsForDelta(modelID string, version uint64, d projection.Delta) []Event {
	var out []Event
	ev := func(name string, payload any) {
		out = append(out, Event{Name: name, ModelID: modelID, Version: version, Payload: payload})
	}

	if len(d.RemovedConnections) > 0 {
		ev(EventRemoveConnections, ConnectionList{Connections: d.RemovedConnections})
	}
	for _, id := range d.RemovedAssets {
		ev(EventDeleteObject, map[string]string{"id": id})
	}
	if len(d.AddedAssets) > 0 {
		ev(EventAddObjects, d.AddedAssets)
	}
	for _, a := range d.UpdatedAssets {
		ev(EventUpdateAsset, a)
	}
	if len(d.AddedConnections) > 0 {
		ev(EventAddConnections, ConnectionList{Connections: d.AddedConnections})
	}
	return out
}

// ProjectionEvents replaces everything the client shows for a model.
func ProjectionEvents(modelID string, version uint64, p *core.Projection) []Event {
	return []Event{
		{Name: EventClearProjection, ModelID: modelID, Version: version},
		{Name: EventAreaBuildingList, ModelID: modelID, Version: version, Payload: p.Index},
		{Name: EventAddObjects, ModelID: modelID, Version: version, Payload: p.Assets},
		{Name: EventClearConnections, ModelID: modelID, Version: version},
		{Name: EventAddConnections, ModelID: modelID, Version: version, Payload: ConnectionList{Connections: p.Connections}},
	}
}

// ConnectionEvents redraws the connection layer only. A non-empty
// buildingID scopes the list to a building editor.
func ConnectionEvents(modelID string, version uint64, buildingID string, conns []model.Connection) []Event {
	return []Event{
		{Name: EventClearConnections, ModelID: modelID, Version: version, Payload: ConnectionList{BuildingID: buildingID}},
		{Name: EventAddConnections, ModelID: modelID, Version: version, Payload: ConnectionList{BuildingID: buildingID, Connections: conns}},
	}
}

// BuildingEditorEvent opens a building editor with its local projection.
func BuildingEditorEvent(modelID string, version uint64, buildingID string, p *core.Projection) Event {
	return Event{
		Name:    EventBuildingEditor,
		ModelID: modelID,
		Version: version,
		Payload: map[string]any{
			"building_id": buildingID,
			"assets":      p.Assets,
			"connections": p.Connections,
			"index":       p.Index,
		},
	}
}
