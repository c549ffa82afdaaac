package models

import "time"

// Room is a chat session addressed by a short human-entry code.
// Rooms are immutable once created.
type Room struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Code      string    `gorm:"size:6;uniqueIndex;not null" json:"code"`
	CreatedBy string    `gorm:"size:64" json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// Participant records a user's membership within a room, including presence state.
// Participants are never hard-deleted during a session; leaving only flips the
// online flag.
type Participant struct {
	ID       string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID   string    `gorm:"size:36;index;uniqueIndex:idx_room_user,priority:1;not null" json:"room_id"`
	UserID   string    `gorm:"size:64;uniqueIndex:idx_room_user,priority:2;not null" json:"user_id"`
	UserName string    `gorm:"size:64" json:"user_name"`
	IsOnline bool      `gorm:"not null;default:false" json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}

// Message is a chat message. The sender name is denormalized at send time:
// later display-name changes do not rename historical messages.
type Message struct {
	ID         string    `gorm:"primaryKey;size:36" json:"id"`
	RoomID     string    `gorm:"size:36;index;not null" json:"room_id"`
	SenderID   string    `gorm:"size:64;index" json:"sender_id"`
	SenderName string    `gorm:"size:64" json:"sender_name"`
	Text       string    `gorm:"type:text" json:"text"`
	IsEdited   bool      `gorm:"not null;default:false" json:"is_edited"`
	CreatedAt  time.Time `json:"created_at"`
}

// Reaction is a single emoji reaction on a message. At most one reaction may
// exist per (message, user, kind).
type Reaction struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	MessageID string    `gorm:"size:36;index;uniqueIndex:idx_msg_user_kind,priority:1;not null" json:"message_id"`
	RoomID    string    `gorm:"size:36;index;not null" json:"room_id"`
	UserID    string    `gorm:"size:64;uniqueIndex:idx_msg_user_kind,priority:2;not null" json:"user_id"`
	Kind      string    `gorm:"size:16;uniqueIndex:idx_msg_user_kind,priority:3;not null" json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}
