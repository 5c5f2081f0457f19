package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// CarrierPropagator walks the transport network from a start asset and
// assigns one carrier to every port it reaches. Transport assets are
// descended into; everything else (including heat exchangers and
// transformers, which separate two networks) is a leaf that only gets
// the carrier on the port facing the walk.
type CarrierPropagator struct {
	log logging.Logger
}

// NewCarrierPropagator creates a propagator. A nil logger discards
// dangling-reference warnings.
func NewCarrierPropagator(log logging.Logger) *CarrierPropagator {
	if log == nil {
		log = logging.Noop()
	}
	return &CarrierPropagator{log: log}
}

// Propagate assigns carrierID starting at startAssetID and returns the
// ids of every asset that had at least one port assigned, in visit
// order. It always terminates: each transport asset is entered at most
// once.
func (cp *CarrierPropagator) Propagate(ctx context.Context, store *kb.KnowledgeBase, startAssetID, carrierID string) ([]string, error) {
	if store.GetAsset(startAssetID) == nil {
		return nil, fmt.Errorf("%w: asset %q", ErrNotFound, startAssetID)
	}
	if store.GetCarrier(carrierID) == nil {
		return nil, fmt.Errorf("%w: carrier %q", ErrNotFound, carrierID)
	}

	w := &carrierWalk{
		ctx:      ctx,
		store:    store,
		carrier:  carrierID,
		visited:  make(map[string]struct{}),
		assigned: make(map[string]struct{}),
		log:      cp.log,
	}
	if err := w.visit(startAssetID, ""); err != nil {
		return nil, err
	}
	return w.touched, nil
}

// descends reports whether the walk enters an asset of this kind.
func descends(k model.AssetKind) bool {
	return k.IsTransport() && k != model.KindExchange
}

type carrierWalk struct {
	ctx      context.Context
	store    *kb.KnowledgeBase
	carrier  string
	visited  map[string]struct{}
	assigned map[string]struct{}
	touched  []string
	log      logging.Logger
}

// visit assigns the carrier to every port of assetID and follows each
// edge except the one back to arrivedVia, the port the walk came from.
func (w *carrierWalk) visit(assetID, arrivedVia string) error {
	w.visited[assetID] = struct{}{}

	for _, p := range w.store.PortsOf(assetID) {
		if err := w.assign(p); err != nil {
			return err
		}
		for _, qid := range w.store.Neighbours(p.ID) {
			if qid == arrivedVia {
				continue
			}
			q, owner := w.resolve(qid, p.ID)
			if q == nil {
				continue
			}
			if _, seen := w.visited[owner.ID]; seen {
				continue
			}
			if descends(owner.Kind) {
				if err := w.visit(owner.ID, p.ID); err != nil {
					return err
				}
				continue
			}
			if err := w.leaf(q, p.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// leaf assigns the carrier to the leaf port q only, then looks one hop
// past q for fan-out without entering the leaf asset itself.
func (w *carrierWalk) leaf(q *model.Port, from string) error {
	if err := w.assign(q); err != nil {
		return err
	}
	for _, rid := range w.store.Neighbours(q.ID) {
		if rid == from {
			continue
		}
		r, owner := w.resolve(rid, q.ID)
		if r == nil {
			continue
		}
		if _, seen := w.visited[owner.ID]; seen {
			continue
		}
		if descends(owner.Kind) {
			if err := w.visit(owner.ID, q.ID); err != nil {
				return err
			}
			continue
		}
		if err := w.assign(r); err != nil {
			return err
		}
	}
	return nil
}

// resolve looks up a neighbour port and its owner. Dangling references
// are logged and skipped.
func (w *carrierWalk) resolve(portID, from string) (*model.Port, *model.Asset) {
	p := w.store.GetPort(portID)
	if p == nil {
		w.log.Warn(w.ctx, "dangling port reference during carrier propagation",
			logging.String("port_id", portID),
			logging.String("referenced_from", from),
		)
		return nil, nil
	}
	owner := w.store.GetAsset(p.AssetID)
	if owner == nil {
		w.log.Warn(w.ctx, "port without owner during carrier propagation",
			logging.String("port_id", portID),
			logging.String("asset_id", p.AssetID),
		)
		return nil, nil
	}
	return p, owner
}

func (w *carrierWalk) assign(p *model.Port) error {
	if _, done := w.assigned[p.ID]; done {
		return nil
	}
	w.assigned[p.ID] = struct{}{}
	if err := w.store.SetPortCarrier(p.ID, w.carrier); err != nil {
		return err
	}
	if !contains(w.touched, p.AssetID) {
		w.touched = append(w.touched, p.AssetID)
	}
	return nil
}
