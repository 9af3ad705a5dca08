package utils

import (
	"math"
)

func CalculateDistance(lat1, lon1, lat2, lon2 float64) float64 {
	return haversineDistance(lat1, lon1, lat2, lon2)
}

func haversineDistance(lat1, lon1, lat2, lon2 float64) float64 {
	// Convert to radians
	lat1Rad := lat1 * math.Pi / 180
	lon1Rad := lon1 * math.Pi / 180
	lat2Rad := lat2 * math.Pi / 180
	lon2Rad := lon2 * math.Pi / 180

	dLat := lat2Rad - lat1Rad
	dLon := lon2Rad - lon1Rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1Rad)*math.Cos(lat2Rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	// Distance in kilometers
	return EarthRadiusKM * c
}

func IsWithinRadius(centerLat, centerLon, pointLat, pointLon, radiusKM float64) bool {
	return CalculateDistance(centerLat, centerLon, pointLat, pointLon) <= radiusKM
}

// DegreesLatForKM is the latitude span covered by km along a meridian.
func DegreesLatForKM(km float64) float64 {
	return km / (EarthRadiusKM * math.Pi / 180)
}

// DegreesLngForKM is the longitude span covered by km along the parallel at lat.
// It returns +Inf near the poles where a parallel degenerates.
func DegreesLngForKM(km, lat float64) float64 {
	cos := math.Cos(lat * math.Pi / 180)
	if cos < 1e-6 {
		return math.Inf(1)
	}
	return km / (EarthRadiusKM * math.Pi / 180 * cos)
}

func RoundTo(value float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(value*p) / p
}
