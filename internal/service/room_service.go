package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/models"
	"github.com/realchat/roomsync/internal/observability"
	"github.com/realchat/roomsync/internal/realtime"
	"github.com/realchat/roomsync/internal/repository"
	"github.com/realchat/roomsync/internal/roomcode"
)

const codeGenerateAttempts = 5

// RoomService manages room lifecycle and membership.
type RoomService interface {
	CreateRoom(ctx context.Context, req dto.RoomCreateRequest) (dto.RoomResponse, error)
	JoinRoom(ctx context.Context, req dto.RoomJoinRequest) (dto.RoomResponse, dto.ParticipantResponse, error)
	LeaveRoom(ctx context.Context, code string, req dto.RoomLeaveRequest) error
	MarkOffline(ctx context.Context, roomID, userID string) error
	ResolveRoom(ctx context.Context, code string) (dto.RoomResponse, error)
	Participants(ctx context.Context, roomID string) ([]dto.ParticipantResponse, error)
}

type roomService struct {
	rooms        repository.RoomRepository
	participants repository.ParticipantRepository
	feed         realtime.Feed
	validator    *validator.Validate
	logger       zerolog.Logger
	capacity     int
	origin       string
}

// NewRoomService constructs the room service.
func NewRoomService(rooms repository.RoomRepository, participants repository.ParticipantRepository, feed realtime.Feed, validate *validator.Validate, capacity int, origin string, logger zerolog.Logger) RoomService {
	if capacity <= 0 {
		capacity = 50
	}

	return &roomService{
		rooms:        rooms,
		participants: participants,
		feed:         feed,
		validator:    validate,
		logger:       logger.With().Str("component", "room_service").Logger(),
		capacity:     capacity,
		origin:       origin,
	}
}

func (s *roomService) CreateRoom(ctx context.Context, req dto.RoomCreateRequest) (dto.RoomResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.RoomResponse{}, err
	}

	var room models.Room
	for attempt := 0; ; attempt++ {
		code, err := roomcode.Generate()
		if err != nil {
			return dto.RoomResponse{}, err
		}

		room = models.Room{
			ID:        uuid.NewString(),
			Code:      code,
			CreatedBy: req.UserID,
			CreatedAt: time.Now().UTC(),
		}

		if err := s.rooms.Create(ctx, &room); err != nil {
			if attempt < codeGenerateAttempts && errors.Is(err, gorm.ErrDuplicatedKey) {
				continue
			}
			return dto.RoomResponse{}, fmt.Errorf("failed to create room: %w", err)
		}
		break
	}

	if _, err := s.addParticipant(ctx, room.ID, req.UserID, req.UserName); err != nil {
		return dto.RoomResponse{}, err
	}

	s.logger.Info().Str("room_id", room.ID).Str("code", room.Code).Msg("room created")

	response := dto.NewRoomResponse(room)
	response.InviteLink = roomcode.InviteLink(s.origin, room.Code)
	return response, nil
}

func (s *roomService) JoinRoom(ctx context.Context, req dto.RoomJoinRequest) (dto.RoomResponse, dto.ParticipantResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return dto.RoomResponse{}, dto.ParticipantResponse{}, err
	}

	room, err := s.resolve(ctx, req.Code)
	if err != nil {
		observability.RoomsJoined().WithLabelValues("not_found").Inc()
		return dto.RoomResponse{}, dto.ParticipantResponse{}, err
	}

	existing, err := s.participants.GetByRoomAndUser(ctx, room.ID, req.UserID)
	switch {
	case err == nil:
		// Re-join: refresh presence, keep the existing membership row.
		updated, err := s.participants.SetOnline(ctx, room.ID, req.UserID, true, time.Now().UTC())
		if err != nil {
			return dto.RoomResponse{}, dto.ParticipantResponse{}, fmt.Errorf("failed to refresh participant: %w", err)
		}
		s.publishParticipant(ctx, realtime.EventUpdate, room.ID, &existing, &updated)
		observability.RoomsJoined().WithLabelValues("rejoined").Inc()

		return dto.NewRoomResponse(room), dto.NewParticipantResponse(updated), nil

	case errors.Is(err, gorm.ErrRecordNotFound):
		count, err := s.participants.CountByRoom(ctx, room.ID)
		if err != nil {
			return dto.RoomResponse{}, dto.ParticipantResponse{}, fmt.Errorf("failed to count participants: %w", err)
		}
		if count >= int64(s.capacity) {
			observability.RoomsJoined().WithLabelValues("full").Inc()
			return dto.RoomResponse{}, dto.ParticipantResponse{}, ErrRoomFull
		}

		participant, err := s.addParticipant(ctx, room.ID, req.UserID, req.UserName)
		if err != nil {
			return dto.RoomResponse{}, dto.ParticipantResponse{}, err
		}
		observability.RoomsJoined().WithLabelValues("joined").Inc()

		return dto.NewRoomResponse(room), dto.NewParticipantResponse(participant), nil

	default:
		return dto.RoomResponse{}, dto.ParticipantResponse{}, fmt.Errorf("failed to look up participant: %w", err)
	}
}

func (s *roomService) LeaveRoom(ctx context.Context, code string, req dto.RoomLeaveRequest) error {
	if err := s.validator.Struct(req); err != nil {
		return err
	}

	room, err := s.resolve(ctx, code)
	if err != nil {
		return err
	}

	before, err := s.participants.GetByRoomAndUser(ctx, room.ID, req.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up participant: %w", err)
	}

	updated, err := s.participants.SetOnline(ctx, room.ID, req.UserID, false, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark participant offline: %w", err)
	}

	s.publishParticipant(ctx, realtime.EventUpdate, room.ID, &before, &updated)
	return nil
}

// MarkOffline flips a participant offline by room id. Used by session
// teardown, which already holds the resolved id.
func (s *roomService) MarkOffline(ctx context.Context, roomID, userID string) error {
	before, err := s.participants.GetByRoomAndUser(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return fmt.Errorf("failed to look up participant: %w", err)
	}

	updated, err := s.participants.SetOnline(ctx, roomID, userID, false, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark participant offline: %w", err)
	}

	s.publishParticipant(ctx, realtime.EventUpdate, roomID, &before, &updated)
	return nil
}

func (s *roomService) ResolveRoom(ctx context.Context, code string) (dto.RoomResponse, error) {
	room, err := s.resolve(ctx, code)
	if err != nil {
		return dto.RoomResponse{}, err
	}

	response := dto.NewRoomResponse(room)
	response.InviteLink = roomcode.InviteLink(s.origin, room.Code)
	return response, nil
}

func (s *roomService) Participants(ctx context.Context, roomID string) ([]dto.ParticipantResponse, error) {
	participants, err := s.participants.ListByRoom(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return dto.NewParticipantResponseSlice(participants), nil
}

func (s *roomService) resolve(ctx context.Context, code string) (models.Room, error) {
	normalized, err := roomcode.Normalize(code)
	if err != nil {
		return models.Room{}, ErrNotFound
	}

	room, err := s.rooms.GetByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.Room{}, ErrNotFound
		}
		return models.Room{}, fmt.Errorf("failed to resolve room: %w", err)
	}
	return room, nil
}

func (s *roomService) addParticipant(ctx context.Context, roomID, userID, userName string) (models.Participant, error) {
	participant := models.Participant{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		UserID:   userID,
		UserName: userName,
		IsOnline: true,
		LastSeen: time.Now().UTC(),
	}

	if err := s.participants.Create(ctx, &participant); err != nil {
		return models.Participant{}, fmt.Errorf("failed to add participant: %w", err)
	}

	s.publishParticipant(ctx, realtime.EventInsert, roomID, nil, &participant)
	return participant, nil
}

func (s *roomService) publishParticipant(ctx context.Context, eventType realtime.EventType, roomID string, oldRow, newRow *models.Participant) {
	var oldPayload, newPayload interface{}
	if oldRow != nil {
		oldPayload = *oldRow
	}
	if newRow != nil {
		newPayload = *newRow
	}

	event, err := realtime.NewChange(realtime.TableParticipants, eventType, roomID, oldPayload, newPayload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to build participant event")
		return
	}

	if err := s.feed.Publish(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to publish participant event")
		return
	}

	observability.ChangeEvents().WithLabelValues(string(realtime.TableParticipants), string(eventType)).Inc()
}
