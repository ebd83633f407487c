package envdata

import "math"

const earthRadiusM = 6371000

// Polygon is a GeoJSON polygon.
type Polygon struct {
	Type        string         `json:"type"`
	Coordinates [][][2]float64 `json:"coordinates"`
}

// Square returns the closed square of side extentM centred on (lat, lon),
// in [lon, lat] order.
func Square(lat, lon, extentM float64) Polygon {
	half := extentM / 2
	dLat := half / earthRadiusM * (180 / math.Pi)
	dLon := half / (earthRadiusM * math.Cos(lat*math.Pi/180)) * (180 / math.Pi)
	return Polygon{
		Type: "Polygon",
		Coordinates: [][][2]float64{{
			{lon - dLon, lat - dLat},
			{lon + dLon, lat - dLat},
			{lon + dLon, lat + dLat},
			{lon - dLon, lat + dLat},
			{lon - dLon, lat - dLat},
		}},
	}
}
