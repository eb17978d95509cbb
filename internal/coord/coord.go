// Package coord converts coordinates between WGS84, GCJ02 and BD09.
//
// All functions take and return (lat, lng) in degrees. They are pure and
// never fail: out-of-range input still yields a number.
package coord

import "math"

const (
	// Semi-major axis of the WGS84 ellipsoid in meters
	earthRadius = 6378137.0
	// First eccentricity squared
	ee = 0.00669342162296594323
	// Scaled pi used by the BD09 polar offset
	bdPi = math.Pi * 3000.0 / 180.0

	bdLatOffset = 0.006
	bdLngOffset = 0.0065
)

// Region outside of which no obfuscation is applied
const (
	MinLng = 72.004
	MaxLng = 137.8347
	MinLat = 0.8293
	MaxLat = 55.8271
)

// OutOfChina reports whether (lat, lng) lies outside the obfuscated region
func OutOfChina(lat, lng float64) bool {
	return lng < MinLng || lng > MaxLng || lat < MinLat || lat > MaxLat
}

// transform returns the raw perturbation for x = lng-105, y = lat-35
func transform(x, y float64) (lat, lng float64) {
	xy := x * y
	absX := math.Sqrt(math.Abs(x))
	xPi := x * math.Pi
	yPi := y * math.Pi

	d := 20.0*math.Sin(6.0*xPi) + 20.0*math.Sin(2.0*xPi)
	lat = d
	lng = d

	lat += 20.0*math.Sin(yPi) + 40.0*math.Sin(yPi/3.0)
	lng += 20.0*math.Sin(xPi) + 40.0*math.Sin(xPi/3.0)

	lat += 160.0*math.Sin(yPi/12.0) + 320.0*math.Sin(yPi/30.0)
	lng += 150.0*math.Sin(xPi/12.0) + 300.0*math.Sin(xPi/30.0)

	d = 2.0 / 3.0
	lat *= d
	lng *= d

	lat += -100.0 + 2.0*x + 3.0*y + 0.2*y*y + 0.1*xy + 0.2*absX
	lng += 300.0 + x + 2.0*y + 0.1*x*x + 0.1*xy + 0.1*absX

	return lat, lng
}

// delta scales the perturbation at (lat, lng) into degrees
func delta(lat, lng float64) (dLat, dLng float64) {
	dLat, dLng = transform(lng-105.0, lat-35.0)
	radLat := lat * (math.Pi / 180.0)
	sinLat := math.Sin(radLat)
	magic := 1.0 - ee*sinLat*sinLat
	sqrtMagic := math.Sqrt(magic)

	dLat = (dLat * 180.0) / (((earthRadius * (1.0 - ee)) / (magic * sqrtMagic)) * math.Pi)
	dLng = (dLng * 180.0) / ((earthRadius / sqrtMagic) * math.Cos(radLat) * math.Pi)
	return dLat, dLng
}

// WGS2GCJ converts a WGS84 coordinate to GCJ02
func WGS2GCJ(lat, lng float64) (float64, float64) {
	if OutOfChina(lat, lng) {
		return lat, lng
	}
	dLat, dLng := delta(lat, lng)
	return lat + dLat, lng + dLng
}

// GCJ2WGS converts a GCJ02 coordinate to WGS84.
// The result is accurate to roughly 1e-5 degrees; see GCJ2WGSExact.
func GCJ2WGS(lat, lng float64) (float64, float64) {
	if OutOfChina(lat, lng) {
		return lat, lng
	}
	dLat, dLng := delta(lat, lng)
	return lat - dLat, lng - dLng
}

// GCJ2BD converts a GCJ02 coordinate to BD09
func GCJ2BD(lat, lng float64) (float64, float64) {
	if OutOfChina(lat, lng) {
		return lat, lng
	}
	z := math.Hypot(lng, lat) + 0.00002*math.Sin(lat*bdPi)
	theta := math.Atan2(lat, lng) + 0.000003*math.Cos(lng*bdPi)
	return z*math.Sin(theta) + bdLatOffset, z*math.Cos(theta) + bdLngOffset
}

// BD2GCJ converts a BD09 coordinate to GCJ02.
// The region gate applies to the BD09 input before the offset is removed.
func BD2GCJ(lat, lng float64) (float64, float64) {
	if OutOfChina(lat, lng) {
		return lat, lng
	}
	x := lng - bdLngOffset
	y := lat - bdLatOffset
	z := math.Hypot(x, y) - 0.00002*math.Sin(y*bdPi)
	theta := math.Atan2(y, x) - 0.000003*math.Cos(x*bdPi)
	return z * math.Sin(theta), z * math.Cos(theta)
}

// WGS2BD converts a WGS84 coordinate to BD09 via GCJ02
func WGS2BD(lat, lng float64) (float64, float64) {
	return GCJ2BD(WGS2GCJ(lat, lng))
}

// BD2WGS converts a BD09 coordinate to WGS84 via GCJ02
func BD2WGS(lat, lng float64) (float64, float64) {
	return GCJ2WGS(BD2GCJ(lat, lng))
}

// Apply runs the conversion selected by kind. An invalid kind is the identity.
func Apply(kind Kind, lat, lng float64) (float64, float64) {
	switch kind {
	case KindWGS2GCJ:
		return WGS2GCJ(lat, lng)
	case KindGCJ2WGS:
		return GCJ2WGS(lat, lng)
	case KindGCJ2BD:
		return GCJ2BD(lat, lng)
	case KindBD2GCJ:
		return BD2GCJ(lat, lng)
	case KindWGS2BD:
		return WGS2BD(lat, lng)
	case KindBD2WGS:
		return BD2WGS(lat, lng)
	default:
		return lat, lng
	}
}

// Func returns Apply bound to kind
func (k Kind) Func() func(lat, lng float64) (float64, float64) {
	return func(lat, lng float64) (float64, float64) {
		return Apply(k, lat, lng)
	}
}
