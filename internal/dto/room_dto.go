package dto

import (
	"time"

	"github.com/realchat/roomsync/internal/models"
)

// RoomCreateRequest is the payload to create a new room.
type RoomCreateRequest struct {
	UserID   string `json:"user_id" validate:"required,max=64"`
	UserName string `json:"user_name" validate:"required,min=1,max=64"`
}

// RoomJoinRequest is the payload to join an existing room by code.
type RoomJoinRequest struct {
	Code     string `json:"code" validate:"required,min=6,max=12"`
	UserID   string `json:"user_id" validate:"required,max=64"`
	UserName string `json:"user_name" validate:"required,min=1,max=64"`
}

// RoomLeaveRequest marks a participant offline on room exit.
type RoomLeaveRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// RoomResponse is the serialized representation of a room.
type RoomResponse struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
	InviteLink string    `json:"invite_link,omitempty"`
}

// NewRoomResponse converts a room model into a DTO.
func NewRoomResponse(room models.Room) RoomResponse {
	return RoomResponse{
		ID:        room.ID,
		Code:      room.Code,
		CreatedBy: room.CreatedBy,
		CreatedAt: room.CreatedAt,
	}
}

// ParticipantResponse is the serialized representation of a room participant.
type ParticipantResponse struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"room_id"`
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// NewParticipantResponse converts a participant model into a DTO.
func NewParticipantResponse(participant models.Participant) ParticipantResponse {
	return ParticipantResponse{
		ID:       participant.ID,
		RoomID:   participant.RoomID,
		UserID:   participant.UserID,
		UserName: participant.UserName,
		IsOnline: participant.IsOnline,
		LastSeen: participant.LastSeen,
	}
}

// NewParticipantResponseSlice converts a slice of participant models into DTOs.
func NewParticipantResponseSlice(participants []models.Participant) []ParticipantResponse {
	out := make([]ParticipantResponse, 0, len(participants))
	for _, participant := range participants {
		out = append(out, NewParticipantResponse(participant))
	}
	return out
}
