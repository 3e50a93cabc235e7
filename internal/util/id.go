package util

import (
	"strings"

	"github.com/google/uuid"
)

const tempPrefix = "temp_"

// NewID returns a random identifier, optionally prefixed ("blk_…").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

// NewTempID returns a client-side placeholder id for an entity the server
// has not acknowledged yet.
func NewTempID() string {
	return tempPrefix + uuid.NewString()
}

func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempPrefix)
}
