// Package identity persists the anonymous local user identity. There is no
// authentication: the id is random, generated lazily on first access, and
// stored in a durable local key-value table.
package identity

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	userIDKey   = "realchat_user_id"
	userNameKey = "realchat_user_name"

	autoNamePrefix = "User "
)

type entry struct {
	Key   string `gorm:"primaryKey;size:64"`
	Value string `gorm:"type:text"`
}

func (entry) TableName() string { return "identity_entries" }

// Store is a durable local key-value store holding the user id and display name.
type Store struct {
	db  *gorm.DB
	log zerolog.Logger
}

// Open creates or opens the identity database at the given path.
func Open(path string, log zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("identity db path must not be empty")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open identity store: %w", err)
	}

	if err := db.AutoMigrate(&entry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate identity store: %w", err)
	}

	return &Store{db: db, log: log.With().Str("component", "identity_store").Logger()}, nil
}

// UserID returns the stable anonymous user id, generating and persisting one
// on first access.
func (s *Store) UserID() (string, error) {
	if id, err := s.get(userIDKey); err == nil {
		return id, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	id := fmt.Sprintf("user_%d_%s", time.Now().UnixMilli(), randomSuffix(7))
	if err := s.set(userIDKey, id); err != nil {
		return "", err
	}

	s.log.Debug().Str("user_id", id).Msg("generated new user identity")
	return id, nil
}

// DisplayName returns the stored display name, generating a numbered default
// on first access.
func (s *Store) DisplayName() (string, error) {
	if name, err := s.get(userNameKey); err == nil {
		return name, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	n, err := rand.Int(rand.Reader, big.NewInt(9999))
	if err != nil {
		return "", fmt.Errorf("failed to generate display name: %w", err)
	}

	name := fmt.Sprintf("%s%d", autoNamePrefix, n.Int64()+1)
	if err := s.set(userNameKey, name); err != nil {
		return "", err
	}

	return name, nil
}

// SetDisplayName stores a user-chosen display name.
func (s *Store) SetDisplayName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name must not be empty")
	}
	return s.set(userNameKey, name)
}

// IsAutoName reports whether a display name is one of the generated defaults,
// which callers use to decide whether to prompt for a real name.
func IsAutoName(name string) bool {
	return strings.HasPrefix(name, autoNamePrefix)
}

func (s *Store) get(key string) (string, error) {
	var e entry
	if err := s.db.First(&e, "key = ?", key).Error; err != nil {
		return "", err
	}
	return e.Value, nil
}

func (s *Store) set(key, value string) error {
	e := entry{Key: key, Value: value}
	return s.db.Save(&e).Error
}

const suffixAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

func randomSuffix(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand only fails when the OS entropy source is broken.
		panic(err)
	}
	for i, b := range buf {
		buf[i] = suffixAlphabet[int(b)%len(suffixAlphabet)]
	}
	return string(buf)
}
