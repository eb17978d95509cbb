package coord

import "math"

const (
	exactInitDelta  = 0.01
	exactThreshold  = 1e-9
	exactIterations = 30
)

// GCJ2WGSExact inverts WGS2GCJ by bisection instead of subtracting the
// forward delta. It converges to well under a millimetre inside the region.
func GCJ2WGSExact(lat, lng float64) (float64, float64) {
	if OutOfChina(lat, lng) {
		return lat, lng
	}

	mLat, mLng := lat-exactInitDelta, lng-exactInitDelta
	pLat, pLng := lat+exactInitDelta, lng+exactInitDelta

	var wgsLat, wgsLng float64
	for i := 0; i < exactIterations; i++ {
		wgsLat, wgsLng = (mLat+pLat)/2, (mLng+pLng)/2
		gLat, gLng := WGS2GCJ(wgsLat, wgsLng)
		dLat, dLng := gLat-lat, gLng-lng
		if math.Abs(dLat) < exactThreshold && math.Abs(dLng) < exactThreshold {
			break
		}
		if dLat > 0 {
			pLat = wgsLat
		} else {
			mLat = wgsLat
		}
		if dLng > 0 {
			pLng = wgsLng
		} else {
			mLng = wgsLng
		}
	}
	return wgsLat, wgsLng
}

// BD2WGSExact is BD2GCJ followed by GCJ2WGSExact
func BD2WGSExact(lat, lng float64) (float64, float64) {
	return GCJ2WGSExact(BD2GCJ(lat, lng))
}
