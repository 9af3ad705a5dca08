package models

import (
	"bloodsos/internal/utils"
)

// GeoPoint is the boundary representation of a coordinate. API payloads,
// websocket events and SOS documents all carry {lat, lng}.
type GeoPoint struct {
	Lat float64 `json:"lat" bson:"lat"`
	Lng float64 `json:"lng" bson:"lng"`
}

func (p GeoPoint) Validate() error {
	return utils.ValidateCoordinates(p.Lat, p.Lng)
}

func (p GeoPoint) DistanceKM(other GeoPoint) float64 {
	return utils.CalculateDistance(p.Lat, p.Lng, other.Lat, other.Lng)
}

func (p GeoPoint) String() string {
	return utils.FormatLatLng(p.Lat, p.Lng)
}

// GeoJSONPoint is the storage representation used by 2dsphere indexes.
// Coordinates are ordered [lng, lat].
type GeoJSONPoint struct {
	Type        string    `json:"type" bson:"type"`
	Coordinates []float64 `json:"coordinates" bson:"coordinates"`
}

// NewGeoJSONPoint is the only place a GeoPoint becomes [lng, lat].
func NewGeoJSONPoint(p GeoPoint) GeoJSONPoint {
	return GeoJSONPoint{
		Type:        "Point",
		Coordinates: []float64{p.Lng, p.Lat},
	}
}

// GeoPoint converts back to {lat, lng}. A malformed point yields the zero value.
func (g GeoJSONPoint) GeoPoint() GeoPoint {
	if len(g.Coordinates) < 2 {
		return GeoPoint{}
	}
	return GeoPoint{Lat: g.Coordinates[1], Lng: g.Coordinates[0]}
}
