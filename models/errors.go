package models

// InvalidInputError marks missing or malformed caller input. It is the
// only error class that surfaces to callers of the analysis API;
// provider and persistence failures are absorbed by fallback paths.
type InvalidInputError struct {
	Message string
}

func (e *InvalidInputError) Error() string {
	return e.Message
}

// ErrImageURLRequired is returned when an analysis is requested
// without an image URL.
var ErrImageURLRequired = &InvalidInputError{Message: "imageUrl is required"}
