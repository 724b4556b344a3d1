package storage

import "errors"

var (
	// ErrInvalidToken indicates a token with no active identity mapping.
	ErrInvalidToken = errors.New("invalid token")

	// ErrDuplicateUser indicates the username already has an active token.
	ErrDuplicateUser = errors.New("user already enrolled")

	// ErrNotEnrolled indicates the username has no active token.
	ErrNotEnrolled = errors.New("user not enrolled")

	// ErrNoEnrolledSpeakers indicates a match was requested against an
	// empty speaker-profile store.
	ErrNoEnrolledSpeakers = errors.New("no enrolled speakers")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrCorrupted indicates an unreadable or malformed durable object.
	// Operations hitting it fail closed: existing data is never discarded
	// or silently reinitialized.
	ErrCorrupted = errors.New("persistent state corrupted")
)
