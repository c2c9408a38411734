package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidAPIKey indicates operator authentication failure.
	ErrInvalidAPIKey = errors.New("invalid api key")
)
