package geo

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/OCAP2/platoon/pkg/core"
	geom "github.com/peterstace/simplefeatures/geom"
	"github.com/wroge/wgs84"
)

// Simulator coordinates are local metres: x east, y south (left-handed, as the
// simulator reports them). Geometry is stored in the local frame; Projector maps
// it to WGS84 for exports that are read on a map.

var (
	// ErrInvalidCoordinates is returned when the coordinates are invalid
	ErrInvalidCoordinates = errors.New("invalid coordinates provided")
	// ErrShortTrajectory is returned when fewer than two distinct points are given
	ErrShortTrajectory = errors.New("trajectory needs at least 2 points")
)

// LocationFromString parses "x,y" or "x,y,z" into a core.Location.
func LocationFromString(coords string) (core.Location, error) {
	parts := strings.Split(coords, ",")
	if len(parts) < 2 || len(parts) > 3 {
		return core.Location{}, ErrInvalidCoordinates
	}
	var vals [3]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return core.Location{}, ErrInvalidCoordinates
		}
		vals[i] = v
	}
	return core.Location{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}

// Point creates an XYZ point from a simulator location
func Point(l core.Location) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: l.X, Y: l.Y},
		Z:    l.Z,
		Type: geom.DimXYZ,
	})
}

// Trajectory builds an XY line string from vehicle states in tick order.
// Consecutive duplicate positions are dropped.
func Trajectory(states []core.VehicleState) (geom.LineString, error) {
	flat := make([]float64, 0, len(states)*2)
	var last core.Location
	for i, s := range states {
		loc := s.Transform.Location
		if i > 0 && loc.X == last.X && loc.Y == last.Y {
			continue
		}
		flat = append(flat, loc.X, loc.Y)
		last = loc
	}
	if len(flat) < 4 {
		return geom.LineString{}, ErrShortTrajectory
	}
	return geom.NewLineString(geom.NewSequence(flat, geom.DimXY)), nil
}

// Projector maps local simulator metres to WGS84 around a geo origin.
type Projector struct {
	originX, originY float64 // origin in EPSG:3857
	scale            float64 // mercator scale factor at the origin latitude
	toMercator       wgs84.Func
	toLonLat         wgs84.Func
}

// NewProjector anchors the simulator origin at originLon/originLat.
func NewProjector(originLat, originLon float64) (*Projector, error) {
	if originLat < -85 || originLat > 85 || originLon < -180 || originLon > 180 {
		return nil, ErrInvalidCoordinates
	}
	epsg := wgs84.EPSG()
	p := &Projector{
		scale:      1 / math.Cos(originLat*math.Pi/180),
		toMercator: epsg.Transform(4326, 3857),
		toLonLat:   epsg.Transform(3857, 4326),
	}
	p.originX, p.originY, _ = p.toMercator(originLon, originLat, 0)
	return p, nil
}

// LonLat returns the WGS84 longitude and latitude of a simulator location.
func (p *Projector) LonLat(l core.Location) (lon, lat float64) {
	x := p.originX + l.X*p.scale
	y := p.originY - l.Y*p.scale
	lon, lat, _ = p.toLonLat(x, y, 0)
	return lon, lat
}

// Point3857 returns the web mercator point of a simulator location, the SRID
// used for geometry columns.
func (p *Projector) Point3857(l core.Location) geom.Point {
	return geom.NewPoint(geom.Coordinates{
		XY:   geom.XY{X: p.originX + l.X*p.scale, Y: p.originY - l.Y*p.scale},
		Z:    l.Z,
		Type: geom.DimXYZ,
	})
}
