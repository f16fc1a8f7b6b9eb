package router

import (
	"strings"

	"github.com/google/uuid"
)

// stringPtr returns a trimmed pointer or nil when the input is empty.
func stringPtr(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

// uuidPtr renders a non-nil UUID as a string pointer.
func uuidPtr(value *uuid.UUID) *string {
	if value == nil || *value == uuid.Nil {
		return nil
	}
	return stringPtr(value.String())
}

func int64Ptr(value int64) *int64 {
	return &value
}
