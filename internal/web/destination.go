package web

import (
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"compass-ng/internal/geo"
)

// DestinationFeatures builds a FeatureCollection with the destination point
// and, once known, the last fix plus the great-circle leg between them.
func DestinationFeatures(c Compass, name string) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	dest := c.Destination()
	df := geojson.NewFeature(dest.Point())
	df.Properties = geojson.Properties{"role": "destination"}
	if name != "" {
		df.Properties["name"] = name
	}
	fc.Append(df)

	fix, ok := c.LastFix()
	if !ok {
		return fc
	}
	ff := geojson.NewFeature(fix.Coordinate.Point())
	ff.Properties = geojson.Properties{
		"role":     "fix",
		"time_utc": fix.Time.UTC().Format(time.RFC3339Nano),
	}
	fc.Append(ff)

	leg := geojson.NewFeature(orb.LineString{fix.Coordinate.Point(), dest.Point()})
	leg.Properties = geojson.Properties{
		"role":        "leg",
		"distance_m":  math.Round(geo.Distance(fix.Coordinate, dest)*10) / 10,
		"bearing_deg": math.Round(geo.Bearing(fix.Coordinate, dest)*100) / 100,
	}
	fc.Append(leg)
	return fc
}

func DestinationHandler(c Compass, name string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !allowMethod(w, r, http.MethodGet) {
			return
		}
		b, err := json.Marshal(DestinationFeatures(c, name))
		if err != nil {
			http.Error(w, "marshal failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/geo+json")
		w.Header().Set("Cache-Control", "no-store")
		_, _ = w.Write(b)
		_, _ = w.Write([]byte("\n"))
	})
}
