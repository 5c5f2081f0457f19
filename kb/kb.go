package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/signalsfoundry/energy-network-editor/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrExists   = errors.New("already exists")
	ErrBadInput = errors.New("invalid input")
	ErrInUse    = errors.New("still referenced")
)

// KnowledgeBase is the model store for one energy system. It owns every
// area, asset, port, carrier and potential, resolves them by id, and
// keeps port adjacency symmetric: Connect(a, b) records the edge on both
// ports so connectivity queries never have to search two directions.
//
// Objects are arena-style: all cross references are ids. Pointers
// returned by the getters are live and remain valid until the next
// committed Update; callers must not hold them across writes.
type KnowledgeBase struct {
	mu sync.RWMutex

	// txMu serialises Update calls so two writers never clone the same
	// base state.
	txMu sync.Mutex

	system     model.EnergySystem
	areas      map[string]*model.Area
	assets     map[string]*model.Asset
	ports      map[string]*model.Port
	carriers   map[string]*model.Carrier
	potentials map[string]*model.Potential
	edges      map[model.EdgeKey]struct{}
}

// Counts summarises the store contents.
type Counts struct {
	Areas      int
	Assets     int
	Ports      int
	Carriers   int
	Potentials int
	Edges      int
}

// NewKnowledgeBase creates an empty store.
func NewKnowledgeBase() *KnowledgeBase {
	kb := &KnowledgeBase{}
	kb.resetLocked()
	return kb
}

func (kb *KnowledgeBase) resetLocked() {
	kb.system = model.EnergySystem{}
	kb.areas = make(map[string]*model.Area)
	kb.assets = make(map[string]*model.Asset)
	kb.ports = make(map[string]*model.Port)
	kb.carriers = make(map[string]*model.Carrier)
	kb.potentials = make(map[string]*model.Potential)
	kb.edges = make(map[model.EdgeKey]struct{})
}

// Clear drops all content.
func (kb *KnowledgeBase) Clear() {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.resetLocked()
}

// SetSystem records the energy system identity.
func (kb *KnowledgeBase) SetSystem(es model.EnergySystem) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.system = es
}

// System returns the energy system identity.
func (kb *KnowledgeBase) System() model.EnergySystem {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.system
}

//
// ---------- Transactions ----------
//

// Clone returns a deep copy of the store.
func (kb *KnowledgeBase) Clone() *KnowledgeBase {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := NewKnowledgeBase()
	out.system = kb.system
	for id, a := range kb.areas {
		out.areas[id] = a.Clone()
	}
	for id, a := range kb.assets {
		out.assets[id] = a.Clone()
	}
	for id, p := range kb.ports {
		out.ports[id] = p.Clone()
	}
	for id, c := range kb.carriers {
		cc := *c
		out.carriers[id] = &cc
	}
	for id, p := range kb.potentials {
		out.potentials[id] = p.Clone()
	}
	for k := range kb.edges {
		out.edges[k] = struct{}{}
	}
	return out
}

// Update runs fn against a private copy of the store and commits the copy
// only when fn returns nil. A failing fn leaves the store exactly as it
// was, which makes multi-object edits all-or-nothing.
func (kb *KnowledgeBase) Update(fn func(tx *KnowledgeBase) error) error {
	if fn == nil {
		return nil
	}
	kb.txMu.Lock()
	defer kb.txMu.Unlock()

	tx := kb.Clone()
	if err := fn(tx); err != nil {
		return err
	}

	tx.mu.RLock()
	defer tx.mu.RUnlock()
	kb.mu.Lock()
	defer kb.mu.Unlock()

	kb.system = tx.system
	kb.areas = tx.areas
	kb.assets = tx.assets
	kb.ports = tx.ports
	kb.carriers = tx.carriers
	kb.potentials = tx.potentials
	kb.edges = tx.edges
	return nil
}

//
// ---------- Areas and potentials ----------
//

// AddArea inserts an area. A non-empty ParentID must name an existing
// area; the child is appended to the parent's SubAreaIDs. The first area
// without a parent becomes the system root.
func (kb *KnowledgeBase) AddArea(area *model.Area) error {
	if area == nil || area.ID == "" {
		return fmt.Errorf("%w: empty area", ErrBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.idTakenLocked(area.ID) {
		return fmt.Errorf("%w: area %q", ErrExists, area.ID)
	}
	if area.ParentID != "" {
		parent, ok := kb.areas[area.ParentID]
		if !ok {
			return fmt.Errorf("%w: parent area %q", ErrNotFound, area.ParentID)
		}
		parent.SubAreaIDs = appendIfMissing(parent.SubAreaIDs, area.ID)
	} else if kb.system.RootAreaID == "" {
		kb.system.RootAreaID = area.ID
	}

	area.SubAreaIDs = nil
	area.AssetIDs = nil
	area.PotentialIDs = nil
	kb.areas[area.ID] = area
	return nil
}

// GetArea returns an area by id, or nil if not found.
func (kb *KnowledgeBase) GetArea(id string) *model.Area {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.areas[id]
}

// AddPotential places a potential marker in an area.
func (kb *KnowledgeBase) AddPotential(p *model.Potential) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: empty potential", ErrBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.idTakenLocked(p.ID) {
		return fmt.Errorf("%w: potential %q", ErrExists, p.ID)
	}
	area, ok := kb.areas[p.ContainerID]
	if !ok {
		return fmt.Errorf("%w: area %q for potential %q", ErrNotFound, p.ContainerID, p.ID)
	}
	area.PotentialIDs = appendIfMissing(area.PotentialIDs, p.ID)
	kb.potentials[p.ID] = p
	return nil
}

// GetPotential returns a potential by id, or nil if not found.
func (kb *KnowledgeBase) GetPotential(id string) *model.Potential {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.potentials[id]
}

//
// ---------- Carriers ----------
//

// AddCarrier registers a shared carrier.
func (kb *KnowledgeBase) AddCarrier(c *model.Carrier) error {
	if c == nil || c.ID == "" {
		return fmt.Errorf("%w: empty carrier", ErrBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.carriers[c.ID]; exists {
		return fmt.Errorf("%w: carrier %q", ErrExists, c.ID)
	}
	kb.carriers[c.ID] = c
	return nil
}

// GetCarrier returns a carrier by id, or nil if not found.
func (kb *KnowledgeBase) GetCarrier(id string) *model.Carrier {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.carriers[id]
}

// Carriers returns all carriers sorted by id.
func (kb *KnowledgeBase) Carriers() []*model.Carrier {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]*model.Carrier, 0, len(kb.carriers))
	for _, c := range kb.carriers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

//
// ---------- Assets ----------
//

// AddAsset inserts an asset into the area or building named by
// ContainerID. The kind is resolved from Type when unset. PortIDs and
// ChildIDs are owned by the store: ports attach through AddPort and
// children through their own AddAsset call.
func (kb *KnowledgeBase) AddAsset(a *model.Asset) error {
	if a == nil || a.ID == "" {
		return fmt.Errorf("%w: empty asset", ErrBadInput)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.idTakenLocked(a.ID) {
		return fmt.Errorf("%w: asset %q", ErrExists, a.ID)
	}
	if err := kb.attachToContainerLocked(a.ID, a.ContainerID); err != nil {
		return err
	}

	if a.Kind == model.KindUnknown {
		a.Kind = model.KindForType(a.Type)
	}
	if a.State == "" {
		a.State = model.StateEnabled
	}
	a.PortIDs = nil
	a.ChildIDs = nil
	kb.assets[a.ID] = a
	return nil
}

// GetAsset returns an asset by id, or nil if not found.
func (kb *KnowledgeBase) GetAsset(id string) *model.Asset {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.assets[id]
}

// LookupAsset is GetAsset with an ErrNotFound-wrapped error.
func (kb *KnowledgeBase) LookupAsset(id string) (*model.Asset, error) {
	if a := kb.GetAsset(id); a != nil {
		return a, nil
	}
	return nil, fmt.Errorf("%w: asset %q", ErrNotFound, id)
}

// Assets returns all assets sorted by id.
func (kb *KnowledgeBase) Assets() []*model.Asset {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]*model.Asset, 0, len(kb.assets))
	for _, a := range kb.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RemoveAsset deletes an asset, its ports and every edge touching them.
// Buildings with children are only removed when recursive is set.
func (kb *KnowledgeBase) RemoveAsset(id string, recursive bool) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	return kb.removeAssetLocked(id, recursive)
}

func (kb *KnowledgeBase) removeAssetLocked(id string, recursive bool) error {
	a, ok := kb.assets[id]
	if !ok {
		return fmt.Errorf("%w: asset %q", ErrNotFound, id)
	}
	if len(a.ChildIDs) > 0 {
		if !recursive {
			return fmt.Errorf("%w: building %q has %d children", ErrInUse, id, len(a.ChildIDs))
		}
		for _, child := range append([]string(nil), a.ChildIDs...) {
			if err := kb.removeAssetLocked(child, true); err != nil {
				return err
			}
		}
	}
	for _, pid := range append([]string(nil), a.PortIDs...) {
		kb.deletePortLocked(pid)
	}
	kb.detachFromContainerLocked(id, a.ContainerID)
	delete(kb.assets, id)
	return nil
}

// ContainerOf returns the direct container of an asset: exactly one of
// the two results is non-nil for a stored asset.
func (kb *KnowledgeBase) ContainerOf(assetID string) (*model.Area, *model.Asset) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	a, ok := kb.assets[assetID]
	if !ok {
		return nil, nil
	}
	if area, ok := kb.areas[a.ContainerID]; ok {
		return area, nil
	}
	return nil, kb.assets[a.ContainerID]
}

// BuildingOf returns the id of the nearest building enclosing assetID,
// or "" when the asset is not inside a building.
func (kb *KnowledgeBase) BuildingOf(assetID string) string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	seen := make(map[string]struct{})
	cur, ok := kb.assets[assetID]
	for ok {
		if _, loop := seen[cur.ID]; loop {
			return ""
		}
		seen[cur.ID] = struct{}{}
		parent, isAsset := kb.assets[cur.ContainerID]
		if !isAsset {
			return ""
		}
		if parent.Kind.IsBuilding() {
			return parent.ID
		}
		cur, ok = parent, true
	}
	return ""
}

//
// ---------- Ports ----------
//

// AddPort attaches a new port to its asset. Edges are created with
// Connect, so any ConnectedTo content on the input is discarded.
func (kb *KnowledgeBase) AddPort(p *model.Port) error {
	if p == nil || p.ID == "" {
		return fmt.Errorf("%w: empty port", ErrBadInput)
	}
	if !p.Kind.Valid() {
		return fmt.Errorf("%w: port %q has kind %q", ErrBadInput, p.ID, p.Kind)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	if kb.idTakenLocked(p.ID) {
		return fmt.Errorf("%w: port %q", ErrExists, p.ID)
	}
	owner, ok := kb.assets[p.AssetID]
	if !ok {
		return fmt.Errorf("%w: asset %q for port %q", ErrNotFound, p.AssetID, p.ID)
	}
	if p.CarrierID != "" {
		if _, ok := kb.carriers[p.CarrierID]; !ok {
			return fmt.Errorf("%w: carrier %q for port %q", ErrNotFound, p.CarrierID, p.ID)
		}
	}

	p.ConnectedTo = nil
	owner.PortIDs = appendIfMissing(owner.PortIDs, p.ID)
	kb.ports[p.ID] = p
	return nil
}

// GetPort returns a port by id, or nil if not found.
func (kb *KnowledgeBase) GetPort(id string) *model.Port {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return kb.ports[id]
}

// PortsOf returns the ports of an asset in their stored order.
func (kb *KnowledgeBase) PortsOf(assetID string) []*model.Port {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	a, ok := kb.assets[assetID]
	if !ok {
		return nil
	}
	out := make([]*model.Port, 0, len(a.PortIDs))
	for _, pid := range a.PortIDs {
		if p, ok := kb.ports[pid]; ok {
			out = append(out, p)
		}
	}
	return out
}

// OwnerOf returns the asset owning a port, or nil.
func (kb *KnowledgeBase) OwnerOf(portID string) *model.Asset {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	p, ok := kb.ports[portID]
	if !ok {
		return nil
	}
	return kb.assets[p.AssetID]
}

// SetPortCarrier assigns a carrier to a port; an empty carrierID clears it.
func (kb *KnowledgeBase) SetPortCarrier(portID, carrierID string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	p, ok := kb.ports[portID]
	if !ok {
		return fmt.Errorf("%w: port %q", ErrNotFound, portID)
	}
	if carrierID != "" {
		if _, ok := kb.carriers[carrierID]; !ok {
			return fmt.Errorf("%w: carrier %q", ErrNotFound, carrierID)
		}
	}
	p.CarrierID = carrierID
	return nil
}

// MovePort hands an existing port, together with its edges, to another
// asset. The port is appended to the new owner's port list.
func (kb *KnowledgeBase) MovePort(portID, assetID string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	p, ok := kb.ports[portID]
	if !ok {
		return fmt.Errorf("%w: port %q", ErrNotFound, portID)
	}
	target, ok := kb.assets[assetID]
	if !ok {
		return fmt.Errorf("%w: asset %q", ErrNotFound, assetID)
	}
	if prev, ok := kb.assets[p.AssetID]; ok {
		prev.PortIDs = removeID(prev.PortIDs, portID)
	}
	p.AssetID = assetID
	target.PortIDs = appendIfMissing(target.PortIDs, portID)
	return nil
}

// RemovePort deletes a port, removes it from its owner's port list and
// excises it from every neighbour's ConnectedTo.
func (kb *KnowledgeBase) RemovePort(portID string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, ok := kb.ports[portID]; !ok {
		return fmt.Errorf("%w: port %q", ErrNotFound, portID)
	}
	kb.deletePortLocked(portID)
	return nil
}

//
// ---------- Edges ----------
//

// Connect records an undirected edge between two ports. Connecting an
// already connected pair is a no-op.
func (kb *KnowledgeBase) Connect(a, b string) error {
	if a == "" || b == "" || a == b {
		return fmt.Errorf("%w: cannot connect %q to %q", ErrBadInput, a, b)
	}

	kb.mu.Lock()
	defer kb.mu.Unlock()

	pa, ok := kb.ports[a]
	if !ok {
		return fmt.Errorf("%w: port %q", ErrNotFound, a)
	}
	pb, ok := kb.ports[b]
	if !ok {
		return fmt.Errorf("%w: port %q", ErrNotFound, b)
	}

	kb.edges[model.NewEdgeKey(a, b)] = struct{}{}
	pa.ConnectedTo = appendIfMissing(pa.ConnectedTo, b)
	pb.ConnectedTo = appendIfMissing(pb.ConnectedTo, a)
	return nil
}

// Disconnect removes the edge between two ports.
func (kb *KnowledgeBase) Disconnect(a, b string) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	key := model.NewEdgeKey(a, b)
	if _, ok := kb.edges[key]; !ok {
		return fmt.Errorf("%w: edge %q-%q", ErrNotFound, a, b)
	}
	kb.detachEdgeLocked(a, b)
	return nil
}

// Connected reports whether an edge exists between a and b.
func (kb *KnowledgeBase) Connected(a, b string) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	_, ok := kb.edges[model.NewEdgeKey(a, b)]
	return ok
}

// Neighbours returns a copy of the ports connected to portID.
func (kb *KnowledgeBase) Neighbours(portID string) []string {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	p, ok := kb.ports[portID]
	if !ok {
		return nil
	}
	return append([]string(nil), p.ConnectedTo...)
}

// Edges returns every edge in deterministic order.
func (kb *KnowledgeBase) Edges() []model.EdgeKey {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	out := make([]model.EdgeKey, 0, len(kb.edges))
	for k := range kb.edges {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].A != out[j].A {
			return out[i].A < out[j].A
		}
		return out[i].B < out[j].B
	})
	return out
}

// Counts returns the number of stored objects per type.
func (kb *KnowledgeBase) Counts() Counts {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	return Counts{
		Areas:      len(kb.areas),
		Assets:     len(kb.assets),
		Ports:      len(kb.ports),
		Carriers:   len(kb.carriers),
		Potentials: len(kb.potentials),
		Edges:      len(kb.edges),
	}
}

//
// ---------- Helpers ----------
//

// idTakenLocked reports whether any object already uses id. Ids are
// globally unique across object types.
//
// NOTE: caller must hold kb.mu.
func (kb *KnowledgeBase) idTakenLocked(id string) bool {
	if _, ok := kb.areas[id]; ok {
		return true
	}
	if _, ok := kb.assets[id]; ok {
		return true
	}
	if _, ok := kb.ports[id]; ok {
		return true
	}
	if _, ok := kb.potentials[id]; ok {
		return true
	}
	return false
}

// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) attachToContainerLocked(assetID, containerID string) error {
	if area, ok := kb.areas[containerID]; ok {
		area.AssetIDs = appendIfMissing(area.AssetIDs, assetID)
		return nil
	}
	if bld, ok := kb.assets[containerID]; ok && bld.Kind.IsBuilding() {
		bld.ChildIDs = appendIfMissing(bld.ChildIDs, assetID)
		return nil
	}
	return fmt.Errorf("%w: container %q for asset %q", ErrNotFound, containerID, assetID)
}

// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) detachFromContainerLocked(assetID, containerID string) {
	if area, ok := kb.areas[containerID]; ok {
		area.AssetIDs = removeID(area.AssetIDs, assetID)
		return
	}
	if bld, ok := kb.assets[containerID]; ok {
		bld.ChildIDs = removeID(bld.ChildIDs, assetID)
	}
}

// deletePortLocked removes the port and all its edges.
//
// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) deletePortLocked(portID string) {
	p, ok := kb.ports[portID]
	if !ok {
		return
	}
	for _, other := range append([]string(nil), p.ConnectedTo...) {
		kb.detachEdgeLocked(portID, other)
	}
	if owner, ok := kb.assets[p.AssetID]; ok {
		owner.PortIDs = removeID(owner.PortIDs, portID)
	}
	delete(kb.ports, portID)
}

// detachEdgeLocked drops the edge from the edge set and from both
// ConnectedTo lists. A neighbour that no longer exists is skipped.
//
// NOTE: caller must hold kb.mu (write lock).
func (kb *KnowledgeBase) detachEdgeLocked(a, b string) {
	delete(kb.edges, model.NewEdgeKey(a, b))
	if pa, ok := kb.ports[a]; ok {
		pa.ConnectedTo = removeID(pa.ConnectedTo, b)
	}
	if pb, ok := kb.ports[b]; ok {
		pb.ConnectedTo = removeID(pb.ConnectedTo, a)
	}
}

func appendIfMissing(slice []string, id string) []string {
	for _, v := range slice {
		if v == id {
			return slice
		}
	}
	return append(slice, id)
}

func removeID(slice []string, id string) []string {
	out := make([]string, 0, len(slice))
	for _, v := range slice {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
