package core

import (
	"math"

	"github.com/signalsfoundry/energy-network-editor/model"
)

// EarthRadiusKm is the mean Earth radius used for great-circle lengths.
const EarthRadiusKm = 6371.0

// samePointEpsilon is the tolerance, in degrees, under which two
// coordinates are treated as the same vertex.
const samePointEpsilon = 1e-12

// vec2 is a planar vector in degree space: X is longitude, Y latitude.
type vec2 struct {
	X, Y float64
}

func toVec(c model.Coord) vec2 { return vec2{X: c.Lng, Y: c.Lat} }

func (v vec2) coord() model.Coord { return model.Coord{Lat: v.Y, Lng: v.X} }

func (v vec2) sub(o vec2) vec2 { return vec2{X: v.X - o.X, Y: v.Y - o.Y} }

func (v vec2) dot(o vec2) float64 { return v.X*o.X + v.Y*o.Y }

func (v vec2) norm() float64 { return math.Sqrt(v.dot(v)) }

// GreatCircleDistance returns the haversine distance between two WGS84
// coordinates in metres.
func GreatCircleDistance(a, b model.Coord) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	if h > 1 {
		h = 1
	}
	return 2 * EarthRadiusKm * 1000 * math.Asin(math.Sqrt(h))
}

// PolylineLength returns the cumulative great-circle length in metres.
func PolylineLength(points []model.Coord) float64 {
	total := 0.0
	for i := 1; i < len(points); i++ {
		total += GreatCircleDistance(points[i-1], points[i])
	}
	return total
}

// closestPointOnSegment projects p onto segment ab and returns the foot
// of the perpendicular (clamped to the segment) and its distance to p.
func closestPointOnSegment(p, a, b model.Coord) (model.Coord, float64) {
	pv, av, bv := toVec(p), toVec(a), toVec(b)
	ab := bv.sub(av)
	den := ab.dot(ab)
	if den == 0 {
		return a, pv.sub(av).norm()
	}

	t := pv.sub(av).dot(ab) / den
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	closest := vec2{X: av.X + ab.X*t, Y: av.Y + ab.Y*t}
	return closest.coord(), pv.sub(closest).norm()
}

// ClosestSegment returns the index i of the polyline segment
// (points[i], points[i+1]) nearest to p and the split point on it. Ties
// go to the first segment in point order.
func ClosestSegment(points []model.Coord, p model.Coord) (int, model.Coord) {
	best := -1
	bestDist := math.Inf(1)
	var bestPoint model.Coord
	for i := 0; i+1 < len(points); i++ {
		foot, d := closestPointOnSegment(p, points[i], points[i+1])
		if d < bestDist {
			best, bestDist, bestPoint = i, d, foot
		}
	}
	return best, bestPoint
}

// SplitPolyline cuts a polyline at the point nearest to click. line1
// runs from the first point up to and including the split point, line2
// from the split point through the remaining points. It reports false
// when the split would leave one side without length.
func SplitPolyline(points []model.Coord, click model.Coord) (line1, line2 []model.Coord, ok bool) {
	if len(points) < 2 {
		return nil, nil, false
	}
	seg, split := ClosestSegment(points, click)
	if seg < 0 {
		return nil, nil, false
	}

	line1 = append(line1, points[:seg+1]...)
	if !samePoint(line1[len(line1)-1], split) {
		line1 = append(line1, split)
	}

	line2 = append(line2, split)
	for _, pt := range points[seg+1:] {
		if samePoint(line2[len(line2)-1], pt) {
			continue
		}
		line2 = append(line2, pt)
	}

	if len(line1) < 2 || len(line2) < 2 {
		return nil, nil, false
	}
	return line1, line2, true
}

func samePoint(a, b model.Coord) bool {
	return math.Abs(a.Lat-b.Lat) <= samePointEpsilon && math.Abs(a.Lng-b.Lng) <= samePointEpsilon
}

// Centroid returns the area-weighted centroid of a polygon ring. Rings
// without area fall back to the vertex mean.
func Centroid(ring []model.Coord) model.Coord {
	if len(ring) == 0 {
		return model.Coord{}
	}
	pts := ring
	if len(pts) > 1 && samePoint(pts[0], pts[len(pts)-1]) {
		pts = pts[:len(pts)-1]
	}

	var area, cx, cy float64
	for i := range pts {
		a := toVec(pts[i])
		b := toVec(pts[(i+1)%len(pts)])
		cross := a.X*b.Y - b.X*a.Y
		area += cross
		cx += (a.X + b.X) * cross
		cy += (a.Y + b.Y) * cross
	}
	if math.Abs(area) < 1e-18 {
		var sx, sy float64
		for _, p := range pts {
			sx += p.Lng
			sy += p.Lat
		}
		n := float64(len(pts))
		return model.Coord{Lat: sy / n, Lng: sx / n}
	}
	area *= 0.5
	return model.Coord{Lat: cy / (6 * area), Lng: cx / (6 * area)}
}

// AnchorCoord is the single representative position of a geometry: the
// point itself, the centroid of a polygon, or the midpoint vertex of a
// line.
func AnchorCoord(g *model.Geometry) (model.Coord, bool) {
	if g.IsEmpty() {
		return model.Coord{}, false
	}
	switch g.Kind {
	case model.GeometryPolygon:
		return Centroid(g.Points), true
	case model.GeometryLine:
		return g.Points[len(g.Points)/2], true
	default:
		return g.Points[0], true
	}
}
