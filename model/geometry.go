package model

// GeometryKind identifies the shape of a geometry.
type GeometryKind string

const (
	GeometryPoint   GeometryKind = "Point"
	GeometryLine    GeometryKind = "Line"
	GeometryPolygon GeometryKind = "Polygon"
)

// Frame is the coordinate frame a geometry is expressed in.
type Frame string

const (
	// FrameWorld is WGS84 lat/lng.
	FrameWorld Frame = "WGS84"
	// FrameBuilding is the local canvas of a building editor view.
	FrameBuilding Frame = "BUILDING"
)

// Coord is a single position. In the building frame Lat is the canvas
// row and Lng the canvas column.
type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Geometry is a point, polyline or polygon exterior ring.
type Geometry struct {
	Kind   GeometryKind `json:"kind"`
	Points []Coord      `json:"points"`
	Frame  Frame        `json:"frame,omitempty"`
}

// NewPoint builds a world-frame point geometry.
func NewPoint(c Coord) *Geometry {
	return &Geometry{Kind: GeometryPoint, Points: []Coord{c}, Frame: FrameWorld}
}

// NewLine builds a world-frame polyline geometry.
func NewLine(points ...Coord) *Geometry {
	return &Geometry{Kind: GeometryLine, Points: append([]Coord(nil), points...), Frame: FrameWorld}
}

// NewPolygon builds a world-frame polygon from its exterior ring.
func NewPolygon(ring ...Coord) *Geometry {
	return &Geometry{Kind: GeometryPolygon, Points: append([]Coord(nil), ring...), Frame: FrameWorld}
}

// IsEmpty reports whether g carries no usable points.
func (g *Geometry) IsEmpty() bool { return g == nil || len(g.Points) == 0 }

// InBuildingFrame reports whether g is expressed in a building-local frame.
func (g *Geometry) InBuildingFrame() bool { return g != nil && g.Frame == FrameBuilding }

// Clone returns a deep copy of g.
func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	out := *g
	out.Points = append([]Coord(nil), g.Points...)
	return &out
}
