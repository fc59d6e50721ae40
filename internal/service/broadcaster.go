package service

import (
	"context"

	"tutorcall/internal/model"
)

// EndRequest describes a terminal transition requested outside the socket
type EndRequest struct {
	RoomID    string
	SessionID string
	EndedBy   string
	Reason    string
	Cancel    bool
}

// RoomController is the part of the signaling relay the HTTP side drives.
// Implementations run the request on the relay's event loop so REST and socket
// paths share one ordering (interface here avoids an import cycle).
type RoomController interface {
	LeaveRoom(ctx context.Context, roomID, identity string) error
	StartCall(ctx context.Context, roomID, sessionID string) (*model.CallState, error)
	EndCall(ctx context.Context, req EndRequest) (*model.CallState, error)
}
