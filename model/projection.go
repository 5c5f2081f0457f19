package model

// Connection is a derived, directed record of one port-to-port edge. It
// is never stored; flattening and incremental updates compute it from
// the ports' ConnectedTo lists.
type Connection struct {
	FromPortID  string `json:"from_port_id"`
	FromAssetID string `json:"from_asset_id"`
	FromCoord   Coord  `json:"from_coord"`
	ToPortID    string `json:"to_port_id"`
	ToAssetID   string `json:"to_asset_id"`
	ToCoord     Coord  `json:"to_coord"`
	CarrierID   string `json:"carrier_id,omitempty"`
}

// Key identifies the edge a connection record was derived from.
func (c Connection) Key() EdgeKey { return NewEdgeKey(c.FromPortID, c.ToPortID) }

// EdgeKey is an unordered port pair.
type EdgeKey struct {
	A, B string
}

// NewEdgeKey normalises the pair so (a,b) and (b,a) compare equal.
func NewEdgeKey(a, b string) EdgeKey {
	if b < a {
		a, b = b, a
	}
	return EdgeKey{A: a, B: b}
}

// Has reports whether the edge touches portID.
func (k EdgeKey) Has(portID string) bool { return k.A == portID || k.B == portID }

// IndexKind labels an entry in the area/building index.
type IndexKind string

const (
	IndexArea               IndexKind = "Area"
	IndexBuilding           IndexKind = "Building"
	IndexAggregatedBuilding IndexKind = "AggregatedBuilding"
)

// IndexEntry is one row of the ordered area/building index.
type IndexEntry struct {
	Kind  IndexKind `json:"kind"`
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	Level int       `json:"level"`
}

// PortEntry is a port as it appears in the flat asset list.
type PortEntry struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Kind        PortKind  `json:"type"`
	CarrierID   string    `json:"carrier,omitempty"`
	ConnectedTo []string  `json:"conn_to,omitempty"`
	Profiles    []Profile `json:"profiles,omitempty"`
}

// AssetEntry is one row of the flat asset list.
type AssetEntry struct {
	ID         string      `json:"id"`
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Capability Capability  `json:"capability,omitempty"`
	State      AssetState  `json:"state,omitempty"`
	Geometry   *Geometry   `json:"geometry,omitempty"`
	Ports      []PortEntry `json:"ports,omitempty"`

	// ContainerID is the direct container; BuildingID the enclosing
	// building, empty when the asset sits directly in an area tree.
	ContainerID string `json:"container_id,omitempty"`
	BuildingID  string `json:"building_id,omitempty"`

	// Potential marks non-asset spatial markers.
	Potential bool `json:"potential,omitempty"`
}
