package storage

import "errors"

// ErrClosed is returned by operations on a closed storage.
var ErrClosed = errors.New("storage is closed")

// ErrInvalidEvent is returned when an event lacks an ID or type.
var ErrInvalidEvent = errors.New("audit event requires id and type")
