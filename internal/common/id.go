package common

import (
	"github.com/google/uuid"
)

// NewResultID generates a unique result ID with the "res_" prefix
// Format: res_<uuid>
func NewResultID() string {
	return "res_" + uuid.New().String()
}
