package services

import "errors"

var (
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")
	ErrCoachNotFound  = errors.New("coach not found")
	ErrMessageTooLong = errors.New("message too long")
)
