package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SyncHandler receives the full current presence state for a room, keyed by
// user id. A user may appear with multiple states when connected from more
// than one device.
type SyncHandler func(state map[string][]PresenceState)

// Presence is the per-room ephemeral broadcast channel. Track publishes the
// local state; every publish triggers a full-state sync on all subscribers.
type Presence interface {
	Track(ctx context.Context, roomID, clientID string, state PresenceState) error
	Untrack(ctx context.Context, roomID, clientID string) error
	Subscribe(ctx context.Context, roomID string, onSync SyncHandler, onDrop DropHandler) (Subscription, error)
}

type redisPresence struct {
	redis       *redis.Client
	channelBase string
	ttl         time.Duration
	logger      zerolog.Logger
}

// NewPresence creates a presence channel over redis. State entries carry a
// heartbeat TTL so entries from vanished clients expire on their own.
func NewPresence(redisClient *redis.Client, channelBase string, ttl time.Duration, logger zerolog.Logger) Presence {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}

	return &redisPresence{
		redis:       redisClient,
		channelBase: channelBase,
		ttl:         ttl,
		logger:      logger.With().Str("component", "presence_channel").Logger(),
	}
}

func (p *redisPresence) stateKey(roomID, clientID string) string {
	return fmt.Sprintf("%s:presence:%s:%s", p.channelBase, roomID, clientID)
}

func (p *redisPresence) statePattern(roomID string) string {
	return fmt.Sprintf("%s:presence:%s:*", p.channelBase, roomID)
}

func (p *redisPresence) channel(roomID string) string {
	return fmt.Sprintf("%s:presence-sync:%s", p.channelBase, roomID)
}

func (p *redisPresence) Track(ctx context.Context, roomID, clientID string, state PresenceState) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal presence state: %w", err)
	}

	if err := p.redis.Set(ctx, p.stateKey(roomID, clientID), payload, p.ttl).Err(); err != nil {
		return fmt.Errorf("failed to track presence: %w", err)
	}

	if err := p.redis.Publish(ctx, p.channel(roomID), "sync").Err(); err != nil {
		return fmt.Errorf("failed to announce presence change: %w", err)
	}

	return nil
}

func (p *redisPresence) Untrack(ctx context.Context, roomID, clientID string) error {
	if err := p.redis.Del(ctx, p.stateKey(roomID, clientID)).Err(); err != nil {
		return fmt.Errorf("failed to untrack presence: %w", err)
	}

	if err := p.redis.Publish(ctx, p.channel(roomID), "sync").Err(); err != nil {
		return fmt.Errorf("failed to announce presence change: %w", err)
	}

	return nil
}

func (p *redisPresence) Subscribe(ctx context.Context, roomID string, onSync SyncHandler, onDrop DropHandler) (Subscription, error) {
	if p.redis == nil {
		return nil, fmt.Errorf("presence channel requires a redis client")
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := p.redis.Subscribe(subCtx, p.channel(roomID))

	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to presence channel: %w", err)
	}

	// Subscribe ack: deliver the current state immediately so the subscriber
	// does not wait for the next publish.
	p.emitSync(subCtx, roomID, onSync)

	go func() {
		for {
			_, err := pubsub.ReceiveMessage(subCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
					return
				}
				p.logger.Error().Err(err).Str("room_id", roomID).Msg("presence subscription closed")
				if onDrop != nil {
					onDrop(err)
				}
				return
			}
			p.emitSync(subCtx, roomID, onSync)
		}
	}()

	return &redisSubscription{pubsub: pubsub, cancel: cancel}, nil
}

// emitSync rebuilds the full state map from live keys. This is always a full
// replace on the consumer side, so stale entries cannot linger.
func (p *redisPresence) emitSync(ctx context.Context, roomID string, onSync SyncHandler) {
	keys, err := p.redis.Keys(ctx, p.statePattern(roomID)).Result()
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			p.logger.Warn().Err(err).Str("room_id", roomID).Msg("failed to read presence state")
		}
		return
	}

	state := make(map[string][]PresenceState, len(keys))
	for _, key := range keys {
		payload, err := p.redis.Get(ctx, key).Result()
		if err != nil {
			// Key may have expired between KEYS and GET.
			continue
		}

		parsed, err := DecodePresenceState([]byte(payload))
		if err != nil {
			p.logger.Warn().Err(err).Str("key", key).Msg("dropping malformed presence entry")
			continue
		}
		if strings.TrimSpace(parsed.UserID) == "" {
			continue
		}
		state[parsed.UserID] = append(state[parsed.UserID], parsed)
	}

	onSync(state)
}
