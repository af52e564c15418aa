// Package routeexport renders a ride's track and waypoints as GeoJSON or GPX.
package routeexport

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tkrajina/gpxgo/gpx"
)

const creator = "bikeride"

type Point struct {
	Lat  float64
	Lng  float64
	Time time.Time
	Name string
	Note string
}

type Route struct {
	Name      string
	DistanceM float64
	Track     []Point
	Waypoints []Point
}

// GeoJSON returns a FeatureCollection holding the track as a LineString
// (once it has two points) followed by one Point feature per waypoint.
func GeoJSON(r Route) ([]byte, error) {
	fc := geojson.NewFeatureCollection()

	var all orb.MultiPoint
	if len(r.Track) >= 2 {
		line := make(orb.LineString, 0, len(r.Track))
		for _, p := range r.Track {
			line = append(line, orb.Point{p.Lng, p.Lat})
		}
		f := geojson.NewFeature(line)
		f.Properties["name"] = r.Name
		f.Properties["distance_m"] = r.DistanceM
		fc.Append(f)
		all = append(all, line...)
	}

	for _, w := range r.Waypoints {
		pt := orb.Point{w.Lng, w.Lat}
		f := geojson.NewFeature(pt)
		f.Properties["title"] = w.Name
		f.Properties["subtitle"] = w.Note
		if !w.Time.IsZero() {
			f.Properties["recorded_at"] = w.Time.UTC().Format(time.RFC3339)
		}
		fc.Append(f)
		all = append(all, pt)
	}

	if len(all) > 0 {
		fc.BBox = geojson.NewBBox(all.Bound())
	}
	return fc.MarshalJSON()
}

func GPX(r Route) ([]byte, error) {
	g := &gpx.GPX{
		Version: "1.1",
		Creator: creator,
		Name:    r.Name,
	}

	var segment gpx.GPXTrackSegment
	for _, p := range r.Track {
		segment.Points = append(segment.Points, gpxPoint(p))
	}
	g.Tracks = []gpx.GPXTrack{{
		Name:     r.Name,
		Type:     "cycling",
		Segments: []gpx.GPXTrackSegment{segment},
	}}

	for _, w := range r.Waypoints {
		g.Waypoints = append(g.Waypoints, gpxPoint(w))
	}

	return g.ToXml(gpx.ToXmlParams{Version: "1.1", Indent: true})
}

func gpxPoint(p Point) gpx.GPXPoint {
	return gpx.GPXPoint{
		Point:     gpx.Point{Latitude: p.Lat, Longitude: p.Lng},
		Timestamp: p.Time,
		Name:      p.Name,
		Comment:   p.Note,
	}
}
