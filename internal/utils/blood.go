package utils

import "strings"

// NormalizeBloodType upper-cases and trims a blood group such as " ab+ ".
func NormalizeBloodType(bloodType string) string {
	return strings.ToUpper(strings.TrimSpace(bloodType))
}

func IsValidBloodType(bloodType string) bool {
	for _, bt := range BloodTypes {
		if bt == bloodType {
			return true
		}
	}
	return false
}
