package proj

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/wegman-software/eviltransform-go/internal/coord"
)

// SRID constants for the projections known to this package
const (
	SRID4326  = 4326   // WGS84 (lat/lon)
	SRID3857  = 3857   // Web Mercator
	SRIDGCJ02 = 990001 // GCJ02, custom identifier
	SRIDBD09  = 990002 // BD09, custom identifier
)

// IsCustom reports whether srid names one of the obfuscated systems
func IsCustom(srid int) bool {
	return srid == SRIDGCJ02 || srid == SRIDBD09
}

// System maps an SRID onto its coord.System, if it is one of the three
func System(srid int) (coord.System, bool) {
	switch srid {
	case SRID4326:
		return coord.WGS84, true
	case SRIDGCJ02:
		return coord.GCJ02, true
	case SRIDBD09:
		return coord.BD09, true
	default:
		return coord.SystemInvalid, false
	}
}

// SRIDFor returns the SRID used for a coord.System
func SRIDFor(s coord.System) int {
	switch s {
	case coord.WGS84:
		return SRID4326
	case coord.GCJ02:
		return SRIDGCJ02
	case coord.BD09:
		return SRIDBD09
	default:
		return 0
	}
}

// Web Mercator constants
const (
	// Semi-major axis of WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// Maximum extent of Web Mercator
	maxExtent = 20037508.342789244
	// Latitude clamp that keeps y finite
	maxMercatorLat = 85.06
)

// lonLatToWebMercator converts WGS84 (lon, lat) to Web Mercator (x, y)
func lonLatToWebMercator(lon, lat float64) (x, y float64) {
	// Clamp latitude to avoid infinity at poles
	if lat > maxMercatorLat {
		lat = maxMercatorLat
	} else if lat < -maxMercatorLat {
		lat = -maxMercatorLat
	}

	x = lon * maxExtent / 180.0

	// y = R * ln(tan(π/4 + φ/2))
	latRad := lat * math.Pi / 180.0
	y = math.Log(math.Tan(math.Pi/4.0+latRad/2.0)) * earthRadius

	return x, y
}

// webMercatorToLonLat is the inverse of lonLatToWebMercator
func webMercatorToLonLat(x, y float64) (lon, lat float64) {
	lon = x * 180.0 / maxExtent
	lat = (2*math.Atan(math.Exp(y/earthRadius)) - math.Pi/2) * 180.0 / math.Pi
	return lon, lat
}

// reprojectFunc returns a walker callback for a reprojection this package
// can run itself. The callback receives (Y, X) of the stored tuple and must
// return (Y', X').
func reprojectFunc(from, to int) (func(y, x float64) (float64, float64), bool) {
	switch {
	case from == to:
		return func(y, x float64) (float64, float64) { return y, x }, true
	case from == SRID4326 && to == SRID3857:
		return func(lat, lon float64) (float64, float64) {
			mx, my := lonLatToWebMercator(lon, lat)
			return my, mx
		}, true
	case from == SRID3857 && to == SRID4326:
		return func(my, mx float64) (float64, float64) {
			lon, lat := webMercatorToLonLat(mx, my)
			return lat, lon
		}, true
	default:
		return nil, false
	}
}

// ParseSRID parses a projection string to SRID.
// Accepts plain integers, "EPSG:<n>", and the names WGS84, GCJ02, BD09.
func ParseSRID(s string) (int, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	switch v {
	case "WGS84":
		return SRID4326, nil
	case "GCJ02":
		return SRIDGCJ02, nil
	case "BD09":
		return SRIDBD09, nil
	}
	v = strings.TrimPrefix(v, "EPSG:")
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported projection: %s (expected an SRID, EPSG:<n>, WGS84, GCJ02 or BD09)", s)
	}
	return n, nil
}
