// core/flatten.go
package core

import (
	"context"
	"fmt"

	"github.com/signalsfoundry/energy-network-editor/internal/logging"
	"github.com/signalsfoundry/energy-network-editor/kb"
	"github.com/signalsfoundry/energy-network-editor/model"
)

// CanvasSize is the edge length of the synthetic building canvas.
const CanvasSize = 500.0

// Projection is the renderable view of a model: a flat asset list, a
// flat connection list and the ordered area/building index.
type Projection struct {
	Assets      []model.AssetEntry `json:"assets"`
	Connections []model.Connection `json:"connections"`
	Index       []model.IndexEntry `json:"index"`
}

// Flattener derives projections from the containment tree. It only
// reads the store.
type Flattener struct {
	log logging.Logger
}

// NewFlattener creates a flattener. A nil logger discards warnings.
func NewFlattener(log logging.Logger) *Flattener {
	if log == nil {
		log = logging.Noop()
	}
	return &Flattener{log: log}
}

// Flatten projects the whole energy system, starting at its root area.
func (f *Flattener) Flatten(ctx context.Context, store *kb.KnowledgeBase) (*Projection, error) {
	root := store.System().RootAreaID
	if root == "" {
		return nil, fmt.Errorf("%w: energy system has no root area", ErrNotFound)
	}
	return f.FlattenArea(ctx, store, root)
}

// FlattenArea projects one area subtree in the world frame. Connections
// between two assets of the same building are left to the building view.
func (f *Flattener) FlattenArea(ctx context.Context, store *kb.KnowledgeBase, areaID string) (*Projection, error) {
	area := store.GetArea(areaID)
	if area == nil {
		return nil, fmt.Errorf("%w: area %q", ErrNotFound, areaID)
	}
	r := f.newRun(ctx, store, "")
	r.area(area, 0)
	return r.proj, nil
}

// FlattenBuilding projects the inside of one building in its local
// frame. Only connections with both ends inside the building appear.
func (f *Flattener) FlattenBuilding(ctx context.Context, store *kb.KnowledgeBase, buildingID string) (*Projection, error) {
	b := store.GetAsset(buildingID)
	if b == nil {
		return nil, fmt.Errorf("%w: building %q", ErrNotFound, buildingID)
	}
	if !b.Kind.IsBuilding() {
		return nil, fmt.Errorf("%w: asset %q is a %s, not a building", ErrTypeMismatch, buildingID, b.Kind)
	}
	r := f.newRun(ctx, store, buildingID)
	r.proj.Index = append(r.proj.Index, indexEntry(b, 0))
	r.buildingContents(b, 0)
	return r.proj, nil
}

func (f *Flattener) newRun(ctx context.Context, store *kb.KnowledgeBase, scope string) *flattenRun {
	return &flattenRun{
		ctx:     ctx,
		store:   store,
		scope:   scope,
		log:     f.log,
		proj:    &Projection{},
		edges:   make(map[model.EdgeKey]struct{}),
		layouts: make(map[string]map[string]model.Coord),
	}
}

type flattenRun struct {
	ctx   context.Context
	store *kb.KnowledgeBase

	// scope is the building being edited, or "" for the world view.
	scope string

	log     logging.Logger
	proj    *Projection
	edges   map[model.EdgeKey]struct{}
	layouts map[string]map[string]model.Coord
}

// area appends the area, then its sub-areas, then its own assets and
// potentials.
func (r *flattenRun) area(a *model.Area, level int) {
	r.proj.Index = append(r.proj.Index, model.IndexEntry{Kind: model.IndexArea, ID: a.ID, Name: a.Name, Level: level})

	for _, sid := range a.SubAreaIDs {
		sub := r.store.GetArea(sid)
		if sub == nil {
			r.log.Warn(r.ctx, "dangling sub-area reference", logging.String("area_id", a.ID), logging.String("sub_area_id", sid))
			continue
		}
		r.area(sub, level+1)
	}
	for _, aid := range a.AssetIDs {
		asset := r.store.GetAsset(aid)
		if asset == nil {
			r.log.Warn(r.ctx, "dangling asset reference", logging.String("area_id", a.ID), logging.String("asset_id", aid))
			continue
		}
		r.asset(asset, level, "")
	}
	for _, pid := range a.PotentialIDs {
		p := r.store.GetPotential(pid)
		if p == nil {
			continue
		}
		r.proj.Assets = append(r.proj.Assets, model.AssetEntry{
			ID:          p.ID,
			Name:        p.Name,
			Type:        p.Type,
			Geometry:    p.Geometry.Clone(),
			ContainerID: p.ContainerID,
			Potential:   true,
		})
	}
}

func (r *flattenRun) asset(a *model.Asset, level int, buildingID string) {
	layout := r.layoutFor(buildingID)
	entry := entryFor(r.store, a, buildingID, layout, r.scope != "")
	r.proj.Assets = append(r.proj.Assets, entry)

	if a.Kind.IsBuilding() {
		r.proj.Index = append(r.proj.Index, indexEntry(a, level+1))
		r.buildingContents(a, level+1)
		return
	}
	if entry.Geometry.IsEmpty() {
		r.log.Warn(r.ctx, "asset has no geometry; left out of connections",
			logging.String("asset_id", a.ID),
			logging.String("type", a.Type),
		)
		return
	}
	r.connections(a)
}

func (r *flattenRun) buildingContents(b *model.Asset, level int) {
	for _, cid := range b.ChildIDs {
		child := r.store.GetAsset(cid)
		if child == nil {
			r.log.Warn(r.ctx, "dangling building child", logging.String("building_id", b.ID), logging.String("asset_id", cid))
			continue
		}
		r.asset(child, level, b.ID)
	}
}

// connections appends one record per outgoing edge of a's ports.
func (r *flattenRun) connections(a *model.Asset) {
	for _, p := range r.store.PortsOf(a.ID) {
		if p.Kind != model.OutPort {
			continue
		}
		for _, qid := range p.ConnectedTo {
			key := model.NewEdgeKey(p.ID, qid)
			if _, done := r.edges[key]; done {
				continue
			}
			conn, ok := r.connection(p, qid)
			if !ok {
				continue
			}
			r.edges[key] = struct{}{}
			r.proj.Connections = append(r.proj.Connections, conn)
		}
	}
}

func (r *flattenRun) connection(p *model.Port, qid string) (model.Connection, bool) {
	if r.store.GetPort(qid) == nil {
		r.log.Warn(r.ctx, "dangling connection", logging.String("port_id", p.ID), logging.String("connected_to", qid))
		return model.Connection{}, false
	}
	return connectionFor(r.store, p.ID, qid, r.scope, r.layoutFor)
}

func (r *flattenRun) layoutFor(buildingID string) map[string]model.Coord {
	if buildingID == "" {
		return nil
	}
	if l, ok := r.layouts[buildingID]; ok {
		return l
	}
	l := SyntheticLayout(r.store, buildingID)
	r.layouts[buildingID] = l
	return l
}

func indexEntry(b *model.Asset, level int) model.IndexEntry {
	kind := model.IndexBuilding
	if b.Kind == model.KindAggregatedBuilding {
		kind = model.IndexAggregatedBuilding
	}
	return model.IndexEntry{Kind: kind, ID: b.ID, Name: b.Name, Level: level}
}

//
// ---------- Entries and connection records ----------
//

// AssetEntryFor builds the flat-list entry of one stored asset in the
// world view.
func AssetEntryFor(store *kb.KnowledgeBase, assetID string) (model.AssetEntry, bool) {
	a := store.GetAsset(assetID)
	if a == nil {
		return model.AssetEntry{}, false
	}
	bld := store.BuildingOf(assetID)
	var layout map[string]model.Coord
	if bld != "" {
		layout = SyntheticLayout(store, bld)
	}
	return entryFor(store, a, bld, layout, false), true
}

// entryFor builds an asset entry. Building children that lack a usable
// geometry for the view get their synthetic canvas position.
func entryFor(store *kb.KnowledgeBase, a *model.Asset, buildingID string, layout map[string]model.Coord, local bool) model.AssetEntry {
	geom := a.Geometry.Clone()
	if buildingID != "" {
		needsLayout := geom.IsEmpty() || (local && !geom.InBuildingFrame())
		if c, ok := layout[a.ID]; ok && needsLayout {
			geom = &model.Geometry{Kind: model.GeometryPoint, Points: []model.Coord{c}, Frame: model.FrameBuilding}
		}
	}

	entry := model.AssetEntry{
		ID:          a.ID,
		Name:        a.Name,
		Type:        a.Type,
		Capability:  a.Capability(),
		State:       a.State,
		Geometry:    geom,
		ContainerID: a.ContainerID,
		BuildingID:  buildingID,
	}
	for _, p := range store.PortsOf(a.ID) {
		entry.Ports = append(entry.Ports, model.PortEntry{
			ID:          p.ID,
			Name:        p.Name,
			Kind:        p.Kind,
			CarrierID:   p.CarrierID,
			ConnectedTo: append([]string(nil), p.ConnectedTo...),
			Profiles:    append([]model.Profile(nil), p.Profiles...),
		})
	}
	return entry
}

// ConnectionFor builds the record for the edge between two ports,
// oriented from the OutPort. scope selects the view: "" is the world
// view, which hides edges internal to one building; a building id keeps
// only edges with both ends directly inside that building. It reports
// false when the edge is hidden in the view or an end has no position.
func ConnectionFor(store *kb.KnowledgeBase, portA, portB, scope string) (model.Connection, bool) {
	cache := make(map[string]map[string]model.Coord)
	layoutFor := func(bld string) map[string]model.Coord {
		if l, ok := cache[bld]; ok {
			return l
		}
		l := SyntheticLayout(store, bld)
		cache[bld] = l
		return l
	}
	return connectionFor(store, portA, portB, scope, layoutFor)
}

func connectionFor(store *kb.KnowledgeBase, portA, portB, scope string, layoutFor func(string) map[string]model.Coord) (model.Connection, bool) {
	from := store.GetPort(portA)
	to := store.GetPort(portB)
	if from == nil || to == nil {
		return model.Connection{}, false
	}
	if from.Kind != model.OutPort && to.Kind == model.OutPort {
		from, to = to, from
	}
	fromOwner := store.GetAsset(from.AssetID)
	toOwner := store.GetAsset(to.AssetID)
	if fromOwner == nil || toOwner == nil {
		return model.Connection{}, false
	}

	fromBld := store.BuildingOf(fromOwner.ID)
	toBld := store.BuildingOf(toOwner.ID)

	var fromCoord, toCoord model.Coord
	var okFrom, okTo bool
	if scope == "" {
		if fromBld != "" && fromBld == toBld {
			return model.Connection{}, false
		}
		fromCoord, okFrom = resolveCoord(store, fromOwner, from.ID, fromBld, toBld, layoutFor)
		toCoord, okTo = resolveCoord(store, toOwner, to.ID, toBld, fromBld, layoutFor)
	} else {
		if fromBld != scope || toBld != scope {
			return model.Connection{}, false
		}
		layout := layoutFor(scope)
		fromCoord, okFrom = localCoord(fromOwner, from.ID, layout)
		toCoord, okTo = localCoord(toOwner, to.ID, layout)
	}
	if !okFrom || !okTo {
		return model.Connection{}, false
	}

	carrier := from.CarrierID
	if carrier == "" {
		carrier = to.CarrierID
	}
	return model.Connection{
		FromPortID:  from.ID,
		FromAssetID: fromOwner.ID,
		FromCoord:   fromCoord,
		ToPortID:    to.ID,
		ToAssetID:   toOwner.ID,
		ToCoord:     toCoord,
		CarrierID:   carrier,
	}, true
}

// ResolveAssetCoord returns the world position at which a connection
// attaches to assetID through portID. A line attaches at its first point
// for its first port and at its last point otherwise, a point at itself
// and a polygon at its centroid. When the asset sits in a building that
// the other endpoint is not in, the building's anchor is used instead.
func ResolveAssetCoord(store *kb.KnowledgeBase, assetID, portID, otherAssetID string) (model.Coord, bool) {
	a := store.GetAsset(assetID)
	if a == nil {
		return model.Coord{}, false
	}
	own := store.BuildingOf(assetID)
	other := store.BuildingOf(otherAssetID)
	return resolveCoord(store, a, portID, own, other, func(bld string) map[string]model.Coord {
		return SyntheticLayout(store, bld)
	})
}

func resolveCoord(store *kb.KnowledgeBase, a *model.Asset, portID, ownBld, otherBld string, layoutFor func(string) map[string]model.Coord) (model.Coord, bool) {
	if ownBld != "" && ownBld != otherBld {
		if b := store.GetAsset(ownBld); b != nil && !b.Geometry.InBuildingFrame() {
			if c, ok := AnchorCoord(b.Geometry); ok {
				return c, true
			}
		}
	}
	if c, ok := geometryCoord(a.Geometry, a, portID); ok {
		return c, true
	}
	if ownBld != "" {
		c, ok := layoutFor(ownBld)[a.ID]
		return c, ok
	}
	return model.Coord{}, false
}

// localCoord positions an asset on the building canvas: its own
// building-frame geometry when present, else its synthetic slot.
func localCoord(a *model.Asset, portID string, layout map[string]model.Coord) (model.Coord, bool) {
	if a.Geometry.InBuildingFrame() {
		if c, ok := geometryCoord(a.Geometry, a, portID); ok {
			return c, true
		}
	}
	c, ok := layout[a.ID]
	return c, ok
}

func geometryCoord(g *model.Geometry, a *model.Asset, portID string) (model.Coord, bool) {
	if g.IsEmpty() {
		return model.Coord{}, false
	}
	switch g.Kind {
	case model.GeometryLine:
		if len(a.PortIDs) > 0 && a.PortIDs[0] == portID {
			return g.Points[0], true
		}
		return g.Points[len(g.Points)-1], true
	case model.GeometryPolygon:
		return Centroid(g.Points), true
	default:
		return g.Points[0], true
	}
}

//
// ---------- Synthetic layout ----------
//

// layoutColumn orders building contents left to right: joints,
// transport, producers, conversion and storage, consumers, then
// everything else.
func layoutColumn(k model.AssetKind) int {
	switch k {
	case model.KindJoint:
		return 0
	case model.KindConductor, model.KindTransport, model.KindExchange:
		return 1
	case model.KindProducer:
		return 2
	case model.KindConversion, model.KindStorage:
		return 3
	case model.KindConsumer:
		return 4
	default:
		return 5
	}
}

const layoutColumns = 6

// SyntheticLayout places every direct child of a building that has no
// building-frame geometry on the 500x500 canvas. Non-empty category
// columns are spread evenly across the width and each column's assets
// evenly down its height, in child order.
func SyntheticLayout(store *kb.KnowledgeBase, buildingID string) map[string]model.Coord {
	b := store.GetAsset(buildingID)
	if b == nil {
		return nil
	}
	var columns [layoutColumns][]string
	for _, cid := range b.ChildIDs {
		child := store.GetAsset(cid)
		if child == nil || child.Geometry.InBuildingFrame() {
			continue
		}
		col := layoutColumn(child.Kind)
		columns[col] = append(columns[col], cid)
	}

	used := 0
	for _, col := range columns {
		if len(col) > 0 {
			used++
		}
	}
	out := make(map[string]model.Coord)
	i := 0
	for _, col := range columns {
		if len(col) == 0 {
			continue
		}
		x := float64(i+1) * CanvasSize / float64(used+1)
		for j, id := range col {
			y := float64(j+1) * CanvasSize / float64(len(col)+1)
			out[id] = model.Coord{Lat: y, Lng: x}
		}
		i++
	}
	return out
}
