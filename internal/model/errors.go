package model

import "errors"

// ErrNotFound is returned by persistence lookups that must find a row.
var ErrNotFound = errors.New("not found")
