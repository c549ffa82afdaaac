package service

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/models"
	"github.com/realchat/roomsync/internal/realtime"
)

// recordingFeed captures published change events in order.
type recordingFeed struct {
	mu     sync.Mutex
	events []realtime.ChangeEvent
}

func (f *recordingFeed) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *recordingFeed) Subscribe(ctx context.Context, roomID string, handler realtime.Handler, onDrop realtime.DropHandler) (realtime.Subscription, error) {
	return nil, nil
}

func (f *recordingFeed) published() []realtime.ChangeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]realtime.ChangeEvent(nil), f.events...)
}

type stubRoomRepo struct {
	mu      sync.Mutex
	byCode  map[string]models.Room
	failDup int
}

func newStubRoomRepo() *stubRoomRepo {
	return &stubRoomRepo{byCode: make(map[string]models.Room)}
}

func (r *stubRoomRepo) Create(ctx context.Context, room *models.Room) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDup > 0 {
		r.failDup--
		return gorm.ErrDuplicatedKey
	}
	if _, exists := r.byCode[room.Code]; exists {
		return gorm.ErrDuplicatedKey
	}
	r.byCode[room.Code] = *room
	return nil
}

func (r *stubRoomRepo) GetByCode(ctx context.Context, code string) (models.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.byCode[code]
	if !ok {
		return models.Room{}, gorm.ErrRecordNotFound
	}
	return room, nil
}

type stubParticipantRepo struct {
	mu      sync.Mutex
	entries []models.Participant
}

func (r *stubParticipantRepo) Create(ctx context.Context, participant *models.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, *participant)
	return nil
}

func (r *stubParticipantRepo) GetByRoomAndUser(ctx context.Context, roomID, userID string) (models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.entries {
		if entry.RoomID == roomID && entry.UserID == userID {
			return entry, nil
		}
	}
	return models.Participant{}, gorm.ErrRecordNotFound
}

func (r *stubParticipantRepo) SetOnline(ctx context.Context, roomID, userID string, online bool, lastSeen time.Time) (models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, entry := range r.entries {
		if entry.RoomID == roomID && entry.UserID == userID {
			r.entries[i].IsOnline = online
			r.entries[i].LastSeen = lastSeen
			return r.entries[i], nil
		}
	}
	return models.Participant{}, gorm.ErrRecordNotFound
}

func (r *stubParticipantRepo) ListByRoom(ctx context.Context, roomID string) ([]models.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Participant
	for _, entry := range r.entries {
		if entry.RoomID == roomID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *stubParticipantRepo) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, entry := range r.entries {
		if entry.RoomID == roomID {
			count++
		}
	}
	return count, nil
}

type stubMessageRepo struct {
	mu       sync.Mutex
	messages map[string]models.Message
}

func newStubMessageRepo() *stubMessageRepo {
	return &stubMessageRepo{messages: make(map[string]models.Message)}
}

func (r *stubMessageRepo) Create(ctx context.Context, message *models.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[message.ID] = *message
	return nil
}

func (r *stubMessageRepo) GetByID(ctx context.Context, id string) (models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[id]
	if !ok {
		return models.Message{}, gorm.ErrRecordNotFound
	}
	return message, nil
}

func (r *stubMessageRepo) UpdateText(ctx context.Context, id, senderID, text string) (models.Message, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[id]
	if !ok || message.SenderID != senderID {
		return models.Message{}, 0, nil
	}
	message.Text = text
	message.IsEdited = true
	r.messages[id] = message
	return message, 1, nil
}

func (r *stubMessageRepo) Delete(ctx context.Context, id, senderID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	message, ok := r.messages[id]
	if !ok || message.SenderID != senderID {
		return 0, nil
	}
	delete(r.messages, id)
	return 1, nil
}

func (r *stubMessageRepo) ListByRoom(ctx context.Context, roomID string) ([]models.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Message
	for _, message := range r.messages {
		if message.RoomID == roomID {
			out = append(out, message)
		}
	}
	return out, nil
}

type stubReactionRepo struct {
	mu        sync.Mutex
	reactions map[string]models.Reaction
}

func newStubReactionRepo() *stubReactionRepo {
	return &stubReactionRepo{reactions: make(map[string]models.Reaction)}
}

func (r *stubReactionRepo) Create(ctx context.Context, reaction *models.Reaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reactions[reaction.ID] = *reaction
	return nil
}

func (r *stubReactionRepo) Find(ctx context.Context, messageID, userID, kind string) (models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, reaction := range r.reactions {
		if reaction.MessageID == messageID && reaction.UserID == userID && reaction.Kind == kind {
			return reaction, nil
		}
	}
	return models.Reaction{}, gorm.ErrRecordNotFound
}

func (r *stubReactionRepo) Delete(ctx context.Context, id string) (models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reaction, ok := r.reactions[id]
	if !ok {
		return models.Reaction{}, gorm.ErrRecordNotFound
	}
	delete(r.reactions, id)
	return reaction, nil
}

func (r *stubReactionRepo) DeleteByMessage(ctx context.Context, messageID string) ([]models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []models.Reaction
	for id, reaction := range r.reactions {
		if reaction.MessageID == messageID {
			removed = append(removed, reaction)
			delete(r.reactions, id)
		}
	}
	return removed, nil
}

func (r *stubReactionRepo) ListByMessageIDs(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	wanted := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		wanted[id] = struct{}{}
	}
	var out []models.Reaction
	for _, reaction := range r.reactions {
		if _, ok := wanted[reaction.MessageID]; ok {
			out = append(out, reaction)
		}
	}
	return out, nil
}

func testValidator() *validator.Validate {
	return validator.New()
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
