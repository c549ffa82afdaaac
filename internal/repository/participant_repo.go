package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/models"
)

// ParticipantRepository persists room membership records.
type ParticipantRepository interface {
	Create(ctx context.Context, participant *models.Participant) error
	GetByRoomAndUser(ctx context.Context, roomID, userID string) (models.Participant, error)
	SetOnline(ctx context.Context, roomID, userID string, online bool, lastSeen time.Time) (models.Participant, error)
	ListByRoom(ctx context.Context, roomID string) ([]models.Participant, error)
	CountByRoom(ctx context.Context, roomID string) (int64, error)
}

type participantRepository struct {
	db *gorm.DB
}

// NewParticipantRepository constructs a participant repository backed by GORM.
func NewParticipantRepository(db *gorm.DB) ParticipantRepository {
	return &participantRepository{db: db}
}

func (r *participantRepository) Create(ctx context.Context, participant *models.Participant) error {
	return r.db.WithContext(ctx).Create(participant).Error
}

func (r *participantRepository) GetByRoomAndUser(ctx context.Context, roomID, userID string) (models.Participant, error) {
	var participant models.Participant
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		First(&participant).Error
	if err != nil {
		return models.Participant{}, err
	}
	return participant, nil
}

func (r *participantRepository) SetOnline(ctx context.Context, roomID, userID string, online bool, lastSeen time.Time) (models.Participant, error) {
	updates := map[string]interface{}{
		"is_online": online,
		"last_seen": lastSeen,
	}

	result := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("room_id = ? AND user_id = ?", roomID, userID).
		Updates(updates)
	if result.Error != nil {
		return models.Participant{}, result.Error
	}
	if result.RowsAffected == 0 {
		return models.Participant{}, gorm.ErrRecordNotFound
	}

	return r.GetByRoomAndUser(ctx, roomID, userID)
}

func (r *participantRepository) ListByRoom(ctx context.Context, roomID string) ([]models.Participant, error) {
	var participants []models.Participant
	if err := r.db.WithContext(ctx).Where("room_id = ?", roomID).Find(&participants).Error; err != nil {
		return nil, err
	}
	return participants, nil
}

func (r *participantRepository) CountByRoom(ctx context.Context, roomID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Participant{}).
		Where("room_id = ?", roomID).
		Count(&count).Error
	return count, err
}
