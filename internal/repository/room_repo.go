package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/realchat/roomsync/internal/models"
)

// RoomRepository persists rooms and resolves human-entry codes.
type RoomRepository interface {
	Create(ctx context.Context, room *models.Room) error
	GetByCode(ctx context.Context, code string) (models.Room, error)
}

type roomRepository struct {
	db *gorm.DB
}

// NewRoomRepository constructs a room repository backed by GORM.
func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &roomRepository{db: db}
}

func (r *roomRepository) Create(ctx context.Context, room *models.Room) error {
	return r.db.WithContext(ctx).Create(room).Error
}

func (r *roomRepository) GetByCode(ctx context.Context, code string) (models.Room, error) {
	var room models.Room
	if err := r.db.WithContext(ctx).Where("code = ?", code).First(&room).Error; err != nil {
		return models.Room{}, err
	}
	return room, nil
}
