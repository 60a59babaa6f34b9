package store

import "errors"

// ErrNotFound is returned when a contract has no persisted state.
var ErrNotFound = errors.New("not found")
