package storage

import "errors"

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when a write loses a race with a concurrent
// mutation, such as completing an audit that another request already
// completed or cancelled.
var ErrConflict = errors.New("storage: conflict")
