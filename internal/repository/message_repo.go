package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/models"
)

// MessageRepository persists chat messages. Edits and deletes are scoped by
// sender id: touching another user's message affects zero rows, which callers
// observe as a silent no-op rather than an error.
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id string) (models.Message, error)
	UpdateText(ctx context.Context, id, senderID, text string) (models.Message, int64, error)
	Delete(ctx context.Context, id, senderID string) (int64, error)
	ListByRoom(ctx context.Context, roomID string) ([]models.Message, error)
}

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository constructs a message repository backed by GORM.
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *models.Message) error {
	return r.db.WithContext(ctx).Create(message).Error
}

func (r *messageRepository) GetByID(ctx context.Context, id string) (models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, "id = ?", id).Error; err != nil {
		return models.Message{}, err
	}
	return message, nil
}

func (r *messageRepository) UpdateText(ctx context.Context, id, senderID, text string) (models.Message, int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Message{}).
		Where("id = ? AND sender_id = ?", id, senderID).
		Updates(map[string]interface{}{"text": text, "is_edited": true})
	if result.Error != nil {
		return models.Message{}, 0, result.Error
	}
	if result.RowsAffected == 0 {
		return models.Message{}, 0, nil
	}

	message, err := r.GetByID(ctx, id)
	if err != nil {
		return models.Message{}, 0, err
	}
	return message, result.RowsAffected, nil
}

func (r *messageRepository) Delete(ctx context.Context, id, senderID string) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("id = ? AND sender_id = ?", id, senderID).
		Delete(&models.Message{})
	return result.RowsAffected, result.Error
}

func (r *messageRepository) ListByRoom(ctx context.Context, roomID string) ([]models.Message, error) {
	var messages []models.Message
	err := r.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("created_at ASC").
		Find(&messages).Error
	if err != nil {
		return nil, err
	}
	return messages, nil
}
