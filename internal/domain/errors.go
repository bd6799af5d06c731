// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates the request collides with existing state, such as
// starting a run whose ID is already active.
var ErrConflict = errors.New("already exists")
