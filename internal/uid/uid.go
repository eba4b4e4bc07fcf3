// Package uid provides unique identifier generation for artcurate.
package uid

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a 32-character hex string suitable for blob names and temp
// file names.
func New() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewRecordID returns a time-ordered UUIDv7 string. Record IDs generated
// later sort after earlier ones, which keeps the documented scan order
// (created_at, record_id) stable for records inserted within the same
// millisecond.
func NewRecordID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source fails.
		return uuid.NewString()
	}
	return id.String()
}
