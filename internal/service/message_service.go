package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/models"
	"github.com/realchat/roomsync/internal/observability"
	"github.com/realchat/roomsync/internal/realtime"
	"github.com/realchat/roomsync/internal/repository"
)

// ReactionKinds is the fixed emoji set reactions are drawn from.
var ReactionKinds = []string{"❤️", "😂", "👍", "😮", "😢", "🔥"}

// ErrUnknownReaction indicates a reaction kind outside the fixed emoji set.
var ErrUnknownReaction = errors.New("unknown reaction kind")

// MessageService manages message and reaction lifecycle. Every accepted
// mutation is confirmed to clients via the change feed; nothing is applied
// optimistically.
type MessageService interface {
	Send(ctx context.Context, req dto.MessageSendRequest) (dto.MessageResponse, error)
	Edit(ctx context.Context, messageID string, req dto.MessageEditRequest) (dto.MessageResponse, error)
	Delete(ctx context.Context, messageID string, req dto.MessageDeleteRequest) error
	ToggleReaction(ctx context.Context, messageID string, req dto.ReactionToggleRequest) (bool, error)
	History(ctx context.Context, roomID string) ([]dto.MessageResponse, error)
}

type messageService struct {
	messages  repository.MessageRepository
	reactions repository.ReactionRepository
	feed      realtime.Feed
	validator *validator.Validate
	sanitizer *bluemonday.Policy
	logger    zerolog.Logger
}

// NewMessageService constructs the message service.
func NewMessageService(messages repository.MessageRepository, reactions repository.ReactionRepository, feed realtime.Feed, validate *validator.Validate, logger zerolog.Logger) MessageService {
	return &messageService{
		messages:  messages,
		reactions: reactions,
		feed:      feed,
		validator: validate,
		sanitizer: bluemonday.StrictPolicy(),
		logger:    logger.With().Str("component", "message_service").Logger(),
	}
}

func (s *messageService) Send(ctx context.Context, req dto.MessageSendRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(req.Text))
	if clean == "" {
		return dto.MessageResponse{}, fmt.Errorf("message text empty after sanitization")
	}

	message := models.Message{
		ID:         uuid.NewString(),
		RoomID:     req.RoomID,
		SenderID:   req.SenderID,
		SenderName: req.SenderName,
		Text:       clean,
		CreatedAt:  time.Now().UTC(),
	}

	if err := s.messages.Create(ctx, &message); err != nil {
		return dto.MessageResponse{}, fmt.Errorf("failed to store message: %w", err)
	}

	s.publish(ctx, realtime.TableMessages, realtime.EventInsert, message.RoomID, nil, message)
	observability.MessagesSent().Inc()

	return dto.NewMessageResponse(message), nil
}

func (s *messageService) Edit(ctx context.Context, messageID string, req dto.MessageEditRequest) (dto.MessageResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.MessageResponse{}, err
	}

	clean := strings.TrimSpace(s.sanitizer.Sanitize(req.Text))
	if clean == "" {
		return dto.MessageResponse{}, fmt.Errorf("message text empty after sanitization")
	}

	updated, affected, err := s.messages.UpdateText(ctx, messageID, req.SenderID, clean)
	if err != nil {
		return dto.MessageResponse{}, fmt.Errorf("failed to edit message: %w", err)
	}
	if affected == 0 {
		// Either the message is gone (deleted concurrently) or it belongs to
		// someone else; the row filter makes both a no-op.
		if _, err := s.messages.GetByID(ctx, messageID); errors.Is(err, gorm.ErrRecordNotFound) {
			return dto.MessageResponse{}, ErrNotFound
		}
		return dto.MessageResponse{}, ErrForbidden
	}

	s.publish(ctx, realtime.TableMessages, realtime.EventUpdate, updated.RoomID, nil, updated)
	return dto.NewMessageResponse(updated), nil
}

func (s *messageService) Delete(ctx context.Context, messageID string, req dto.MessageDeleteRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}

	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load message: %w", err)
	}
	if message.SenderID != req.SenderID {
		return ErrForbidden
	}

	// Reactions first, then the message: two independent calls. Consumers
	// cascade client-side, so the brief window where reactions are gone but
	// the message remains is not observable in views.
	removed, err := s.reactions.DeleteByMessage(ctx, messageID)
	if err != nil {
		return fmt.Errorf("failed to delete reactions: %w", err)
	}
	for _, reaction := range removed {
		s.publish(ctx, realtime.TableReactions, realtime.EventDelete, message.RoomID, reaction, nil)
	}

	affected, err := s.messages.Delete(ctx, messageID, req.SenderID)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	if affected == 0 {
		return ErrForbidden
	}

	s.publish(ctx, realtime.TableMessages, realtime.EventDelete, message.RoomID, message, nil)
	return nil
}

func (s *messageService) ToggleReaction(ctx context.Context, messageID string, req dto.ReactionToggleRequest) (bool, error) {
	if err := s.validator.Struct(req); err != nil {
		return false, err
	}

	if !validReactionKind(req.Kind) {
		return false, ErrUnknownReaction
	}

	message, err := s.messages.GetByID(ctx, messageID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("failed to load message: %w", err)
	}

	existing, err := s.reactions.Find(ctx, messageID, req.UserID, req.Kind)
	switch {
	case err == nil:
		removed, err := s.reactions.Delete(ctx, existing.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				// Lost a race with another toggle; the winner's event stands.
				return false, nil
			}
			return false, fmt.Errorf("failed to remove reaction: %w", err)
		}

		s.publish(ctx, realtime.TableReactions, realtime.EventDelete, message.RoomID, removed, nil)
		observability.ReactionsToggled().WithLabelValues("removed").Inc()
		return false, nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		reaction := models.Reaction{
			ID:        uuid.NewString(),
			MessageID: messageID,
			RoomID:    message.RoomID,
			UserID:    req.UserID,
			Kind:      req.Kind,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.reactions.Create(ctx, &reaction); err != nil {
			return false, fmt.Errorf("failed to add reaction: %w", err)
		}

		s.publish(ctx, realtime.TableReactions, realtime.EventInsert, message.RoomID, nil, reaction)
		observability.ReactionsToggled().WithLabelValues("added").Inc()
		return true, nil

	default:
		return false, fmt.Errorf("failed to look up reaction: %w", err)
	}
}

func (s *messageService) History(ctx context.Context, roomID string) ([]dto.MessageResponse, error) {
	messages, err := s.messages.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	if len(messages) == 0 {
		return []dto.MessageResponse{}, nil
	}

	ids := make([]string, 0, len(messages))
	for _, message := range messages {
		ids = append(ids, message.ID)
	}

	reactions, err := s.reactions.ListByMessageIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to list reactions: %w", err)
	}

	return dto.NewMessageResponseSlice(messages, reactions), nil
}

func (s *messageService) publish(ctx context.Context, table realtime.Table, eventType realtime.EventType, roomID string, oldRow, newRow interface{}) {
	event, err := realtime.NewChange(table, eventType, roomID, oldRow, newRow)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build change event")
		return
	}

	if err := s.feed.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish change event")
		return
	}

	observability.ChangeEvents().WithLabelValues(string(table), string(eventType)).Inc()
}

func validReactionKind(kind string) bool {
	for _, allowed := range ReactionKinds {
		if kind == allowed {
			return true
		}
	}
	return false
}
