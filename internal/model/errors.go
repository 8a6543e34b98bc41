package model

import (
	"errors"
)

var (
	// ErrNotFound - a board id has no configuration.
	ErrNotFound = errors.New("board not found")
	// ErrInvalidConfig - a configuration failed schema validation.
	ErrInvalidConfig = errors.New("invalid configuration")
)
