package services

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrSessionNotFound     = errors.New("guest session not found")
	ErrAccessDenied        = errors.New("access denied")
	ErrRoomClosed          = errors.New("this conversation has ended")
	ErrRoomAlreadyAssigned = errors.New("room already assigned")
	ErrRoomNotPending      = errors.New("room no longer pending")
	ErrRoomNotAssigned     = errors.New("room is not assigned to you")
	ErrValidation          = errors.New("validation failed")
	ErrLoginRequired       = errors.New("login required")
	ErrUpstreamUnavailable = errors.New("reply service unavailable")
	ErrInvalidToken        = errors.New("invalid token")
)
