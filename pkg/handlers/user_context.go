package handlers

import (
	"net/http"

	"github.com/google/uuid"
)

// UserIDHeader names the header carrying the authenticated user's ID.
// Authentication itself is handled upstream of this service.
const UserIDHeader = "X-User-ID"

// userIDFromRequest returns the calling user's ID for createdBy attribution,
// or nil when the header is absent or malformed.
func userIDFromRequest(r *http.Request) *uuid.UUID {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil
	}
	return &id
}
