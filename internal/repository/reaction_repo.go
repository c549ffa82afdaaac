package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/models"
)

// ReactionRepository persists message reactions.
type ReactionRepository interface {
	Create(ctx context.Context, reaction *models.Reaction) error
	Find(ctx context.Context, messageID, userID, kind string) (models.Reaction, error)
	Delete(ctx context.Context, id string) (models.Reaction, error)
	DeleteByMessage(ctx context.Context, messageID string) ([]models.Reaction, error)
	ListByMessageIDs(ctx context.Context, messageIDs []string) ([]models.Reaction, error)
}

type reactionRepository struct {
	db *gorm.DB
}

// NewReactionRepository constructs a reaction repository backed by GORM.
func NewReactionRepository(db *gorm.DB) ReactionRepository {
	return &reactionRepository{db: db}
}

func (r *reactionRepository) Create(ctx context.Context, reaction *models.Reaction) error {
	return r.db.WithContext(ctx).Create(reaction).Error
}

func (r *reactionRepository) Find(ctx context.Context, messageID, userID, kind string) (models.Reaction, error) {
	var reaction models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id = ? AND user_id = ? AND kind = ?", messageID, userID, kind).
		First(&reaction).Error
	if err != nil {
		return models.Reaction{}, err
	}
	return reaction, nil
}

func (r *reactionRepository) Delete(ctx context.Context, id string) (models.Reaction, error) {
	var reaction models.Reaction
	if err := r.db.WithContext(ctx).First(&reaction, "id = ?", id).Error; err != nil {
		return models.Reaction{}, err
	}
	if err := r.db.WithContext(ctx).Delete(&models.Reaction{}, "id = ?", id).Error; err != nil {
		return models.Reaction{}, err
	}
	return reaction, nil
}

func (r *reactionRepository) DeleteByMessage(ctx context.Context, messageID string) ([]models.Reaction, error) {
	var reactions []models.Reaction
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Find(&reactions).Error; err != nil {
		return nil, err
	}
	if len(reactions) == 0 {
		return nil, nil
	}
	if err := r.db.WithContext(ctx).Where("message_id = ?", messageID).Delete(&models.Reaction{}).Error; err != nil {
		return nil, err
	}
	return reactions, nil
}

func (r *reactionRepository) ListByMessageIDs(ctx context.Context, messageIDs []string) ([]models.Reaction, error) {
	if len(messageIDs) == 0 {
		return nil, nil
	}

	var reactions []models.Reaction
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", messageIDs).
		Find(&reactions).Error
	if err != nil {
		return nil, err
	}
	return reactions, nil
}
