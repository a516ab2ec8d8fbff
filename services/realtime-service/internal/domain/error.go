package domain

import "errors"

var (
	ErrBookingNotFound = errors.New("booking not found")
	ErrNotParticipant  = errors.New("user is not a participant of the booking")
	ErrInvalidStatus   = errors.New("invalid booking status")
	ErrEmptyContent    = errors.New("message content is empty")
)
