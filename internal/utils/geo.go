package utils

import (
	"fmt"
	"math"
)

func IsValidCoordinates(lat, lng float64) bool {
	return lat >= -90 && lat <= 90 && lng >= -180 && lng <= 180
}

// ValidateCoordinates returns ErrInvalidCoordinates wrapped with the offending pair.
func ValidateCoordinates(lat, lng float64) error {
	if !IsValidCoordinates(lat, lng) {
		return ErrInvalidCoordinates.Wrap(fmt.Errorf("lat=%v lng=%v out of range", lat, lng))
	}
	return nil
}

func FormatLatLng(lat, lng float64) string {
	return fmt.Sprintf("%.6f,%.6f", lat, lng)
}

// MinutesFromSeconds rounds a provider duration to whole minutes.
func MinutesFromSeconds(seconds float64) int {
	return int(math.Round(seconds / 60))
}
