package util

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns a random UUIDv4, optionally prefixed ("chg_...").
func NewID(prefix string) string {
	id := uuid.NewString()
	if prefix == "" {
		return id
	}
	return prefix + "_" + strings.ReplaceAll(id, "-", "")
}
