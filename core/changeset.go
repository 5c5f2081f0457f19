package core

import (
	"errors"

	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

var (
	// ErrNotFound is shared with the model store so callers can test
	// either package's sentinel.
	ErrNotFound            = kb.ErrNotFound
	ErrTypeMismatch        = errors.New("type mismatch")
	ErrUnsupportedGeometry = errors.New("unsupported geometry")
	ErrValidation          = errors.New("validation failed")
)

// ChangeSet describes what one committed edit touched. The projection
// cache turns it into a delta without re-flattening the model.
type ChangeSet struct {
	AddedAssets   []string
	UpdatedAssets []string
	RemovedAssets []string

	AddedEdges   []model.EdgeKey
	RemovedEdges []model.EdgeKey

	// Reassigned maps a port id to the asset that owns it after the edit.
	// Connection records naming the old owner must be rewritten.
	Reassigned map[string]string

	// Warnings are non-fatal findings such as a carrier mismatch on a
	// fresh connection.
	Warnings []Warning
}

// Empty reports whether the edit changed nothing.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || (len(cs.AddedAssets) == 0 && len(cs.UpdatedAssets) == 0 &&
		len(cs.RemovedAssets) == 0 && len(cs.AddedEdges) == 0 &&
		len(cs.RemovedEdges) == 0 && len(cs.Reassigned) == 0)
}

func (cs *ChangeSet) addAsset(id string) {
	cs.AddedAssets = appendUnique(cs.AddedAssets, id)
}

// updateAsset records id unless it was added or removed in the same edit.
func (cs *ChangeSet) updateAsset(ids ...string) {
	for _, id := range ids {
		if id == "" || contains(cs.AddedAssets, id) || contains(cs.RemovedAssets, id) {
			continue
		}
		cs.UpdatedAssets = appendUnique(cs.UpdatedAssets, id)
	}
}

func (cs *ChangeSet) removeAsset(id string) {
	cs.UpdatedAssets = without(cs.UpdatedAssets, id)
	cs.RemovedAssets = appendUnique(cs.RemovedAssets, id)
}

func (cs *ChangeSet) addEdge(a, b string) {
	key := model.NewEdgeKey(a, b)
	for _, k := range cs.AddedEdges {
		if k == key {
			return
		}
	}
	cs.AddedEdges = append(cs.AddedEdges, key)
}

func (cs *ChangeSet) removeEdge(a, b string) {
	key := model.NewEdgeKey(a, b)
	for _, k := range cs.RemovedEdges {
		if k == key {
			return
		}
	}
	cs.RemovedEdges = append(cs.RemovedEdges, key)
}

func (cs *ChangeSet) reassign(portID, assetID string) {
	if cs.Reassigned == nil {
		cs.Reassigned = make(map[string]string)
	}
	cs.Reassigned[portID] = assetID
}

func contains(slice []string, id string) bool {
	for _, v := range slice {
		if v == id {
			return true
		}
	}
	return false
}

func appendUnique(slice []string, id string) []string {
	if contains(slice, id) {
		return slice
	}
	return append(slice, id)
}

func without(slice []string, id string) []string {
	out := slice[:0:0]
	for _, v := range slice {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
