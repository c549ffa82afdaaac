package dto

import (
	"time"

	"github.com/realchat/roomsync/internal/models"
)

// MessageSendRequest is the payload to post a message into a room.
type MessageSendRequest struct {
	RoomID     string `json:"room_id" validate:"required,max=36"`
	SenderID   string `json:"sender_id" validate:"required,max=64"`
	SenderName string `json:"sender_name" validate:"required,min=1,max=64"`
	Text       string `json:"text" validate:"required,min=1,max=4000"`
}

// MessageEditRequest is the payload to edit an owned message.
type MessageEditRequest struct {
	SenderID string `json:"sender_id" validate:"required,max=64"`
	Text     string `json:"text" validate:"required,min=1,max=4000"`
}

// MessageDeleteRequest is the payload to delete an owned message.
type MessageDeleteRequest struct {
	SenderID string `json:"sender_id" validate:"required,max=64"`
}

// ReactionToggleRequest toggles an emoji reaction on a message.
type ReactionToggleRequest struct {
	UserID string `json:"user_id" validate:"required,max=64"`
	Kind   string `json:"kind" validate:"required,max=16"`
}

// ReactionResponse is the serialized representation of a reaction.
type ReactionResponse struct {
	ID        string `json:"id"`
	MessageID string `json:"message_id"`
	RoomID    string `json:"room_id"`
	UserID    string `json:"user_id"`
	Kind      string `json:"kind"`
}

// NewReactionResponse converts a reaction model into a DTO.
func NewReactionResponse(reaction models.Reaction) ReactionResponse {
	return ReactionResponse{
		ID:        reaction.ID,
		MessageID: reaction.MessageID,
		RoomID:    reaction.RoomID,
		UserID:    reaction.UserID,
		Kind:      reaction.Kind,
	}
}

// MessageResponse is the serialized representation of a message with its
// reactions merged in.
type MessageResponse struct {
	ID         string             `json:"id"`
	RoomID     string             `json:"room_id"`
	SenderID   string             `json:"sender_id"`
	SenderName string             `json:"sender_name"`
	Text       string             `json:"text"`
	IsEdited   bool               `json:"is_edited"`
	CreatedAt  time.Time          `json:"created_at"`
	Reactions  []ReactionResponse `json:"reactions"`
}

// NewMessageResponse converts a message model into a DTO with an empty
// reaction list.
func NewMessageResponse(message models.Message) MessageResponse {
	return MessageResponse{
		ID:         message.ID,
		RoomID:     message.RoomID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		Text:       message.Text,
		IsEdited:   message.IsEdited,
		CreatedAt:  message.CreatedAt,
		Reactions:  []ReactionResponse{},
	}
}

// NewMessageResponseSlice converts message models into DTOs, attaching the
// supplied reactions to their parent messages.
func NewMessageResponseSlice(messages []models.Message, reactions []models.Reaction) []MessageResponse {
	byMessage := make(map[string][]ReactionResponse)
	for _, reaction := range reactions {
		byMessage[reaction.MessageID] = append(byMessage[reaction.MessageID], NewReactionResponse(reaction))
	}

	out := make([]MessageResponse, 0, len(messages))
	for _, message := range messages {
		response := NewMessageResponse(message)
		if merged, ok := byMessage[message.ID]; ok {
			response.Reactions = merged
		}
		out = append(out, response)
	}
	return out
}
