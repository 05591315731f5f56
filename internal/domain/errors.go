package domain

import "errors"

// Sentinel errors shared by the storage layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)
