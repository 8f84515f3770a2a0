package domain

import "errors"

var (
	// ErrMalformedMessage is returned for deliveries whose body cannot be decoded
	ErrMalformedMessage = errors.New("malformed stage message")
	// ErrUnknownStage is returned for messages routed to a stage the worker does not run
	ErrUnknownStage = errors.New("unknown stage")
	// ErrMaxRetriesExceeded is returned when a message has used up its retries
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)
