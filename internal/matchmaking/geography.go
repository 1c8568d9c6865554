package matchmaking

import "math"

const earthRadiusKm = 6373.0

// DistanceKm is the great-circle distance between two coordinates in
// degrees, rounded up to whole kilometres.
func DistanceKm(latA, lonA, latB, lonB float64) uint32 {
	const toRad = math.Pi / 180

	dLat := (latB - latA) * toRad
	dLon := (lonB - lonA) * toRad
	a := math.Pow(math.Sin(dLat/2), 2) +
		math.Cos(latA*toRad)*math.Cos(latB*toRad)*math.Pow(math.Sin(dLon/2), 2)
	a = math.Min(1, math.Max(0, a))

	km := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a)) * earthRadiusKm
	return uint32(math.Ceil(km))
}
