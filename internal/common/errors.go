// Package common defines shared sentinel errors and small utilities used
// across the storage engine. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Storage-level errors.
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrConflict         = errors.New("revision conflict")
	ErrConnectionFailed = errors.New("connection failed")

	// Engine-level errors.
	ErrExpired = errors.New("expired")
	ErrInvalid = errors.New("invalid")
)
