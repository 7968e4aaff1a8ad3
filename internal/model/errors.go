package model

import "errors"

var (
	// ErrAlertNotFound is returned when an alert id is absent from the store
	ErrAlertNotFound = errors.New("alert not found")

	// ErrPersistenceUnavailable is returned when the durable store cannot
	// be opened or written
	ErrPersistenceUnavailable = errors.New("persistence unavailable")

	// ErrPermissionDenied is returned when notification delivery is not
	// permitted by the platform
	ErrPermissionDenied = errors.New("notification permission denied")

	// ErrBackgroundUnavailable is returned when background execution is
	// denied or restricted by the platform
	ErrBackgroundUnavailable = errors.New("background execution unavailable")
)
