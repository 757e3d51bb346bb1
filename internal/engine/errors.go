package engine

import "errors"

var (
	// ErrInvalidWindow is returned when a computed candidate window ends
	// before it starts. This is a programming-contract failure, never an
	// expected runtime condition.
	ErrInvalidWindow = errors.New("silence window end before start")
)
