package service

import "errors"

var (
	// ErrAppNotFound is returned when an app does not exist or is disabled.
	ErrAppNotFound = errors.New("app not found")

	// ErrValidation is returned when request input is rejected.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized is returned when an API key does not authenticate an app.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrPayupNotFound is returned when a payup does not exist or has expired.
	ErrPayupNotFound = errors.New("payup not found")

	// ErrPayupAlreadyProcessed is informational: the payup already reached a terminal
	// state and the previous result is returned unchanged.
	ErrPayupAlreadyProcessed = errors.New("payup already processed")

	// ErrPayupInProgress is returned when another request is still settling the
	// payup. The caller may retry.
	ErrPayupInProgress = errors.New("payup is being settled")

	// ErrDB is returned when the durable store fails.
	ErrDB = errors.New("database error")

	// ErrKV is returned when the key-value store fails.
	ErrKV = errors.New("key-value store error")

	// ErrQueue is returned when a webhook job could not be enqueued.
	ErrQueue = errors.New("queue error")
)
