package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrAlreadySettled is returned when a payup already left the CREATED state.
	ErrAlreadySettled = errors.New("payup already settled")
)
