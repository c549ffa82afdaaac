package service

import (
	"context"
	"fmt"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/session"
)

type sessionBackend struct {
	rooms    RoomService
	messages MessageService
}

// NewSessionBackend adapts the room and message services into the data source
// a room session drives. Mutations go through the services unchanged, so
// sessions and HTTP clients observe identical validation and feed behavior.
func NewSessionBackend(rooms RoomService, messages MessageService) session.Backend {
	return &sessionBackend{rooms: rooms, messages: messages}
}

func (b *sessionBackend) LoadSnapshot(ctx context.Context, roomID string) (session.Snapshot, error) {
	participants, err := b.rooms.Participants(ctx, roomID)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to load participants: %w", err)
	}

	messages, err := b.messages.History(ctx, roomID)
	if err != nil {
		return session.Snapshot{}, fmt.Errorf("failed to load message history: %w", err)
	}

	return session.Snapshot{Participants: participants, Messages: messages}, nil
}

func (b *sessionBackend) SendMessage(ctx context.Context, req dto.MessageSendRequest) error {
	_, err := b.messages.Send(ctx, req)
	return err
}

func (b *sessionBackend) EditMessage(ctx context.Context, messageID string, req dto.MessageEditRequest) error {
	_, err := b.messages.Edit(ctx, messageID, req)
	return err
}

func (b *sessionBackend) DeleteMessage(ctx context.Context, messageID string, req dto.MessageDeleteRequest) error {
	return b.messages.Delete(ctx, messageID, req)
}

func (b *sessionBackend) ToggleReaction(ctx context.Context, messageID string, req dto.ReactionToggleRequest) error {
	_, err := b.messages.ToggleReaction(ctx, messageID, req)
	return err
}

func (b *sessionBackend) MarkOffline(ctx context.Context, roomID, userID string) error {
	return b.rooms.MarkOffline(ctx, roomID, userID)
}
