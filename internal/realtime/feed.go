package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Handler receives change events in per-room delivery order.
type Handler func(ChangeEvent)

// DropHandler is invoked once when a subscription is lost for a reason other
// than an orderly close. The feed offers no resumable cursor, so the caller
// must re-load a snapshot and re-subscribe.
type DropHandler func(error)

// Subscription is a handle on an active feed or presence subscription.
type Subscription interface {
	Close() error
}

// Feed publishes and subscribes to per-room change events.
type Feed interface {
	Publish(ctx context.Context, event ChangeEvent) error
	Subscribe(ctx context.Context, roomID string, handler Handler, onDrop DropHandler) (Subscription, error)
}

// NATSSubscriber is implemented by feeds that carry a secondary NATS
// transport for cross-node fan-out.
type NATSSubscriber interface {
	SubscribeNATS(ctx context.Context, roomID, queue string, handler Handler) (Subscription, error)
}

type redisFeed struct {
	redis       *redis.Client
	nats        *nats.Conn
	channelBase string
	subjectBase string
	nodeID      string
	logger      zerolog.Logger
}

// NewFeed creates a change feed over redis pub/sub with an optional NATS
// secondary transport for cross-node fan-out.
func NewFeed(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) Feed {
	return &redisFeed{
		redis:       redisClient,
		nats:        natsConn,
		channelBase: channelBase,
		subjectBase: strings.ReplaceAll(channelBase, ":", "."),
		nodeID:      uuid.NewString(),
		logger:      logger.With().Str("component", "change_feed").Logger(),
	}
}

func (f *redisFeed) channel(roomID string) string {
	return fmt.Sprintf("%s:room:%s:changes", f.channelBase, roomID)
}

func (f *redisFeed) subject(roomID string) string {
	return fmt.Sprintf("%s.room.%s.changes", f.subjectBase, roomID)
}

func (f *redisFeed) Publish(ctx context.Context, event ChangeEvent) error {
	if event.RoomID == "" {
		return fmt.Errorf("change event requires a room id")
	}

	event.Source = f.nodeID
	event.SentAt = time.Now().UTC()

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal change event: %w", err)
	}

	if f.redis != nil {
		if err := f.redis.Publish(ctx, f.channel(event.RoomID), payload).Err(); err != nil {
			return fmt.Errorf("failed to publish change event: %w", err)
		}
	}

	if f.nats != nil {
		if err := f.nats.Publish(f.subject(event.RoomID), payload); err != nil {
			return fmt.Errorf("failed to publish change event to nats: %w", err)
		}
	}

	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *redisSubscription) Close() error {
	s.cancel()
	return s.pubsub.Close()
}

func (f *redisFeed) Subscribe(ctx context.Context, roomID string, handler Handler, onDrop DropHandler) (Subscription, error) {
	if f.redis == nil {
		return nil, fmt.Errorf("change feed requires a redis client")
	}

	subCtx, cancel := context.WithCancel(ctx)
	pubsub := f.redis.Subscribe(subCtx, f.channel(roomID))

	// Force the SUBSCRIBE round-trip so a dead broker fails here, not later.
	if _, err := pubsub.Receive(subCtx); err != nil {
		cancel()
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}

	go func() {
		for {
			msg, err := pubsub.ReceiveMessage(subCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
					return
				}
				f.logger.Error().Err(err).Str("room_id", roomID).Msg("change feed subscription closed")
				if onDrop != nil {
					onDrop(err)
				}
				return
			}

			var event ChangeEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Warn().Err(err).Msg("invalid change event payload")
				continue
			}
			handler(event)
		}
	}()

	return &redisSubscription{pubsub: pubsub, cancel: cancel}, nil
}

// SubscribeNATS attaches a queue-group consumer on the NATS transport. Used
// by the stream hub for cross-node fan-out; events originating from this node
// are suppressed by Source so local broadcasts are not doubled.
func (f *redisFeed) SubscribeNATS(ctx context.Context, roomID, queue string, handler Handler) (Subscription, error) {
	if f.nats == nil {
		return nil, fmt.Errorf("nats transport not configured")
	}

	sub, err := f.nats.QueueSubscribe(f.subject(roomID), queue, func(msg *nats.Msg) {
		var event ChangeEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			f.logger.Warn().Err(err).Msg("invalid nats change event payload")
			return
		}
		if event.Source == f.nodeID {
			return
		}
		handler(event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to nats change feed: %w", err)
	}

	go func() {
		<-ctx.Done()
		if err := sub.Drain(); err != nil {
			f.logger.Warn().Err(err).Msg("failed to drain nats change subscription")
		}
	}()

	return natsSubscription{sub: sub}, nil
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s natsSubscription) Close() error {
	return s.sub.Drain()
}
