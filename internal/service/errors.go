package service

import "errors"

var (
	// ErrNotFound indicates a room code or entity id that does not resolve.
	ErrNotFound = errors.New("not found")

	// ErrRoomFull indicates the room is at its participant capacity.
	ErrRoomFull = errors.New("room full")

	// ErrForbidden indicates a mutation on an entity the caller does not own.
	// The backend's row filter enforces ownership; the caller observes zero
	// rows affected.
	ErrForbidden = errors.New("forbidden")
)
