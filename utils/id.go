package utils

import "github.com/google/uuid"

// NewID returns a random (version 4) UUID in canonical form
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether id is a canonical 36-character UUID
func IsValidID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
