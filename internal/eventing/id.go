package eventing

import "github.com/google/uuid"

// NewEventID generates a time-ordered event identifier.
func NewEventID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
