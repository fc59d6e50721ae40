package service

import (
	"errors"

	"tutorcall/internal/registry"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRoomNotFound    = registry.ErrRoomNotFound
	ErrUnauthorized    = errors.New("not a participant of this session")
	ErrPaymentRequired = errors.New("session payment not completed")
	ErrCancelled       = errors.New("session was cancelled")
	ErrAlreadyEnded    = errors.New("session already ended")
	ErrRoomFull        = registry.ErrRoomFull

	ErrInvalidCredentials = registry.ErrInvalidCredentials
	ErrInvalidToken       = errors.New("invalid or expired token")
)
