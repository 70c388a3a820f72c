package core

import (
	"github.com/google/uuid"
)

// NewID returns a random identifier for a run.
func NewID() string {
	return uuid.NewString()
}
