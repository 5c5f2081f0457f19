// Package projection keeps the rendered view of one model up to date
// between full flattens.
package projection

import (
	"sync"

	"github.com/signalsfoundry/energy-network-editor/core"
	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// Delta is the minimal change to push to clients after one edit.
// Removals are listed before additions; a connection that was rewritten
// appears in both.
type Delta struct {
	AddedAssets   []model.AssetEntry
	UpdatedAssets []model.AssetEntry
	RemovedAssets []string

	AddedConnections   []model.Connection
	RemovedConnections []model.Connection
}

// Empty reports whether the delta carries nothing to send.
func (d Delta) Empty() bool {
	return len(d.AddedAssets) == 0 && len(d.UpdatedAssets) == 0 && len(d.RemovedAssets) == 0 &&
		len(d.AddedConnections) == 0 && len(d.RemovedConnections) == 0
}

// Cache holds the three world-view projections of one model. It is
// filled by Replace after a full flatten and then maintained by Apply.
type Cache struct {
	mu sync.RWMutex

	assets     map[string]model.AssetEntry
	assetOrder []string

	connections map[model.EdgeKey]model.Connection
	connOrder   []model.EdgeKey

	index []model.IndexEntry
	ready bool
}

// New creates an empty cache.
func New() *Cache {
	return &Cache{
		assets:      make(map[string]model.AssetEntry),
		connections: make(map[model.EdgeKey]model.Connection),
	}
}

// Replace discards the cached view and installs p.
func (c *Cache) Replace(p *core.Projection) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assets = make(map[string]model.AssetEntry, len(p.Assets))
	c.assetOrder = make([]string, 0, len(p.Assets))
	for _, a := range p.Assets {
		if _, dup := c.assets[a.ID]; !dup {
			c.assetOrder = append(c.assetOrder, a.ID)
		}
		c.assets[a.ID] = a
	}

	c.connections = make(map[model.EdgeKey]model.Connection, len(p.Connections))
	c.connOrder = make([]model.EdgeKey, 0, len(p.Connections))
	for _, conn := range p.Connections {
		key := conn.Key()
		if _, dup := c.connections[key]; !dup {
			c.connOrder = append(c.connOrder, key)
		}
		c.connections[key] = conn
	}
	c.index = append([]model.IndexEntry(nil), p.Index...)
	c.ready = true
}

// Ready reports whether a full projection has been installed.
func (c *Cache) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

// Snapshot returns an ordered copy of the cached view.
func (c *Cache) Snapshot() *core.Projection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := &core.Projection{
		Assets:      make([]model.AssetEntry, 0, len(c.assetOrder)),
		Connections: make([]model.Connection, 0, len(c.connOrder)),
		Index:       append([]model.IndexEntry(nil), c.index...),
	}
	for _, id := range c.assetOrder {
		out.Assets = append(out.Assets, c.assets[id])
	}
	for _, key := range c.connOrder {
		out.Connections = append(out.Connections, c.connections[key])
	}
	return out
}

// Connections returns the cached connection list in order.
func (c *Cache) Connections() []model.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]model.Connection, 0, len(c.connOrder))
	for _, key := range c.connOrder {
		out = append(out, c.connections[key])
	}
	return out
}

// Asset returns the cached entry of one asset.
func (c *Cache) Asset(id string) (model.AssetEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	a, ok := c.assets[id]
	return a, ok
}

// Len returns the number of cached assets and connections.
func (c *Cache) Len() (assets, connections int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.assets), len(c.connections)
}

// Apply folds a committed change set into the cache. store must already
// hold the post-edit state. Rewritten connections (ports that changed
// owner) are reported as removed and re-added.
func (c *Cache) Apply(store *kb.KnowledgeBase, cs *core.ChangeSet) Delta {
	var d Delta
	if cs == nil {
		return d
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// 1) Connections whose port moved to another asset.
	for portID := range cs.Reassigned {
		for _, key := range c.keysTouchingPortLocked(portID) {
			c.refreshConnectionLocked(store, key, &d)
		}
	}

	// 2) Edges that no longer exist.
	for _, key := range cs.RemovedEdges {
		if old, ok := c.connections[key]; ok {
			c.deleteConnectionLocked(key)
			d.RemovedConnections = append(d.RemovedConnections, old)
		}
	}

	// Buildings whose set of children changed need a new synthetic layout.
	relayout := make(map[string]struct{})

	// 3) Removed assets, and anything still pointing at them.
	for _, id := range cs.RemovedAssets {
		for _, key := range c.keysTouchingAssetLocked(id) {
			d.RemovedConnections = append(d.RemovedConnections, c.connections[key])
			c.deleteConnectionLocked(key)
		}
		if old, ok := c.assets[id]; ok {
			if old.BuildingID != "" {
				relayout[old.BuildingID] = struct{}{}
			}
			delete(c.assets, id)
			c.assetOrder = removeString(c.assetOrder, id)
		}
		d.RemovedAssets = append(d.RemovedAssets, id)
	}

	// 4) New and changed assets.
	fresh := make(map[string]struct{}, len(cs.AddedAssets)+len(cs.UpdatedAssets))
	for _, id := range cs.AddedAssets {
		entry, ok := core.AssetEntryFor(store, id)
		if !ok {
			continue
		}
		if _, exists := c.assets[id]; !exists {
			c.assetOrder = append(c.assetOrder, id)
		}
		c.assets[id] = entry
		fresh[id] = struct{}{}
		if entry.BuildingID != "" {
			relayout[entry.BuildingID] = struct{}{}
		}
		d.AddedAssets = append(d.AddedAssets, entry)
	}
	for _, id := range cs.UpdatedAssets {
		entry, ok := core.AssetEntryFor(store, id)
		if !ok {
			continue
		}
		if _, exists := c.assets[id]; !exists {
			c.assetOrder = append(c.assetOrder, id)
		}
		c.assets[id] = entry
		fresh[id] = struct{}{}
		d.UpdatedAssets = append(d.UpdatedAssets, entry)

		// Carriers and positions on existing records may have changed.
		for _, key := range c.keysTouchingAssetLocked(id) {
			c.refreshConnectionLocked(store, key, &d)
		}
	}

	// 4b) Siblings placed by the synthetic layout move with it.
	for bld := range relayout {
		c.relayoutLocked(store, bld, fresh, &d)
	}

	// 5) New edges.
	for _, key := range cs.AddedEdges {
		conn, ok := core.ConnectionFor(store, key.A, key.B, "")
		if !ok {
			continue
		}
		if old, exists := c.connections[key]; exists {
			if old == conn {
				continue
			}
			d.RemovedConnections = append(d.RemovedConnections, old)
		} else {
			c.connOrder = append(c.connOrder, key)
		}
		c.connections[key] = conn
		d.AddedConnections = append(d.AddedConnections, conn)
	}
	return d
}

// relayoutLocked re-places the cached children of buildingID that sit
// on its synthetic canvas. Entries in skip were rebuilt in this pass.
//
// NOTE: caller must hold c.mu (write lock).
func (c *Cache) relayoutLocked(store *kb.KnowledgeBase, buildingID string, skip map[string]struct{}, d *Delta) {
	layout := core.SyntheticLayout(store, buildingID)
	for _, id := range c.assetOrder {
		if _, done := skip[id]; done {
			continue
		}
		old := c.assets[id]
		if old.BuildingID != buildingID {
			continue
		}
		if _, laid := layout[id]; !laid {
			continue
		}
		if a := store.GetAsset(id); a == nil || !a.Geometry.IsEmpty() {
			continue
		}
		entry, ok := core.AssetEntryFor(store, id)
		if !ok || sameGeometry(old.Geometry, entry.Geometry) {
			continue
		}
		c.assets[id] = entry
		d.UpdatedAssets = append(d.UpdatedAssets, entry)
		for _, key := range c.keysTouchingAssetLocked(id) {
			c.refreshConnectionLocked(store, key, d)
		}
	}
}

func sameGeometry(a, b *model.Geometry) bool {
	if a.IsEmpty() || b.IsEmpty() {
		return a.IsEmpty() == b.IsEmpty()
	}
	if a.Kind != b.Kind || a.Frame != b.Frame || len(a.Points) != len(b.Points) {
		return false
	}
	for i := range a.Points {
		if a.Points[i] != b.Points[i] {
			return false
		}
	}
	return true
}

// refreshConnectionLocked recomputes one cached record and records the
// difference in d.
//
// NOTE: caller must hold c.mu (write lock).
func (c *Cache) refreshConnectionLocked(store *kb.KnowledgeBase, key model.EdgeKey, d *Delta) {
	old, ok := c.connections[key]
	if !ok {
		return
	}
	conn, visible := core.ConnectionFor(store, key.A, key.B, "")
	if visible && conn == old {
		return
	}
	d.RemovedConnections = append(d.RemovedConnections, old)
	if !visible {
		c.deleteConnectionLocked(key)
		return
	}
	c.connections[key] = conn
	d.AddedConnections = append(d.AddedConnections, conn)
}

// NOTE: caller must hold c.mu (write lock).
func (c *Cache) deleteConnectionLocked(key model.EdgeKey) {
	delete(c.connections, key)
	out := c.connOrder[:0]
	for _, k := range c.connOrder {
		if k != key {
			out = append(out, k)
		}
	}
	c.connOrder = out
}

// NOTE: caller must hold c.mu.
func (c *Cache) keysTouchingPortLocked(portID string) []model.EdgeKey {
	var out []model.EdgeKey
	for _, key := range c.connOrder {
		if key.Has(portID) {
			out = append(out, key)
		}
	}
	return out
}

// NOTE: caller must hold c.mu.
func (c *Cache) keysTouchingAssetLocked(assetID string) []model.EdgeKey {
	var out []model.EdgeKey
	for _, key := range c.connOrder {
		conn := c.connections[key]
		if conn.FromAssetID == assetID || conn.ToAssetID == assetID {
			out = append(out, key)
		}
	}
	return out
}

func removeString(slice []string, id string) []string {
	out := slice[:0]
	for _, v := range slice {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
