package service

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/observability"
	"github.com/realchat/roomsync/internal/realtime"
)

const (
	streamSendBufferSize = 64
	streamPingInterval   = 30 * time.Second
	streamNATSQueue      = "roomsync-stream"
)

// Frame types exchanged on a stream connection.
const (
	FrameChange   = "change"
	FramePresence = "presence"
	FrameTrack    = "track"
	FrameUntrack  = "untrack"
)

// StreamFrame is the websocket envelope. Server to client frames carry either
// a change event or a full presence state; client to server frames carry the
// client's own presence state.
type StreamFrame struct {
	Type     string                              `json:"type"`
	Event    *realtime.ChangeEvent               `json:"event,omitempty"`
	Presence map[string][]realtime.PresenceState `json:"presence,omitempty"`
	State    *realtime.PresenceState             `json:"state,omitempty"`
}

// StreamConnectionOptions wraps metadata extracted during the HTTP upgrade.
type StreamConnectionOptions struct {
	RoomID        string
	UserID        string
	ClientID      string
	CorrelationID string
	Context       context.Context
}

// StreamService fans the room change feed and presence channel out to
// websocket clients. Each room's upstream subscriptions are shared across its
// connected clients and torn down when the last one leaves.
type StreamService interface {
	ServeConnection(conn *websocket.Conn, opts StreamConnectionOptions)
}

type streamService struct {
	feed     realtime.Feed
	presence realtime.Presence
	logger   zerolog.Logger
	hub      *streamHub
}

type streamHub struct {
	mu    sync.Mutex
	rooms map[string]*streamRoom
	log   zerolog.Logger
}

type streamRoom struct {
	clients map[*streamClient]struct{}
	subs    []realtime.Subscription
	cancel  context.CancelFunc
}

type streamClient struct {
	conn    *websocket.Conn
	send    chan StreamFrame
	options StreamConnectionOptions
	service *streamService
	closed  chan struct{}
	once    sync.Once
	baseCtx context.Context
}

// NewStreamService constructs the websocket stream fan-out.
func NewStreamService(feed realtime.Feed, presence realtime.Presence, logger zerolog.Logger) StreamService {
	return &streamService{
		feed:     feed,
		presence: presence,
		logger:   logger.With().Str("component", "stream_service").Logger(),
		hub: &streamHub{
			rooms: make(map[string]*streamRoom),
			log:   logger.With().Str("component", "stream_hub").Logger(),
		},
	}
}

func (s *streamService) ServeConnection(conn *websocket.Conn, opts StreamConnectionOptions) {
	baseCtx := opts.Context
	if baseCtx == nil {
		baseCtx = context.Background()
	}

	client := &streamClient{
		conn:    conn,
		send:    make(chan StreamFrame, streamSendBufferSize),
		options: opts,
		service: s,
		closed:  make(chan struct{}),
		baseCtx: baseCtx,
	}

	if err := s.register(client); err != nil {
		s.logger.Error().Err(err).Str("room_id", opts.RoomID).Msg("failed to attach stream client")
		_ = conn.Close()
		return
	}
	observability.StreamClients().Inc()

	go client.writer()
	client.reader()
}

// register attaches the client to its room, creating the room's shared
// upstream subscriptions on first use.
func (s *streamService) register(client *streamClient) error {
	roomID := client.options.RoomID

	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	room, ok := s.hub.rooms[roomID]
	if !ok {
		upstream, err := s.openUpstream(roomID)
		if err != nil {
			return err
		}
		room = upstream
		s.hub.rooms[roomID] = room
	}

	room.clients[client] = struct{}{}
	s.hub.log.Debug().Str("room_id", roomID).Str("user_id", client.options.UserID).Msg("stream client connected")
	return nil
}

func (s *streamService) openUpstream(roomID string) (*streamRoom, error) {
	ctx, cancel := context.WithCancel(context.Background())
	room := &streamRoom{
		clients: make(map[*streamClient]struct{}),
		cancel:  cancel,
	}

	feedSub, err := s.feed.Subscribe(ctx, roomID, func(event realtime.ChangeEvent) {
		s.broadcast(roomID, StreamFrame{Type: FrameChange, Event: &event})
	}, func(err error) {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("room feed subscription lost")
	})
	if err != nil {
		cancel()
		return nil, err
	}
	room.subs = append(room.subs, feedSub)

	// Events relayed over NATS carry the publishing node's id and are
	// suppressed there, so cross-node delivery does not duplicate the local
	// redis path. Client-side merges are idempotent regardless.
	if natsFeed, ok := s.feed.(realtime.NATSSubscriber); ok {
		natsSub, err := natsFeed.SubscribeNATS(ctx, roomID, streamNATSQueue, func(event realtime.ChangeEvent) {
			s.broadcast(roomID, StreamFrame{Type: FrameChange, Event: &event})
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("room_id", roomID).Msg("nats relay unavailable for room")
		} else if natsSub != nil {
			room.subs = append(room.subs, natsSub)
		}
	}

	presSub, err := s.presence.Subscribe(ctx, roomID, func(state map[string][]realtime.PresenceState) {
		s.broadcast(roomID, StreamFrame{Type: FramePresence, Presence: state})
	}, func(err error) {
		s.logger.Warn().Err(err).Str("room_id", roomID).Msg("room presence subscription lost")
	})
	if err != nil {
		for _, sub := range room.subs {
			_ = sub.Close()
		}
		cancel()
		return nil, err
	}
	room.subs = append(room.subs, presSub)

	return room, nil
}

func (s *streamService) unregister(client *streamClient) {
	roomID := client.options.RoomID

	s.hub.mu.Lock()
	room, ok := s.hub.rooms[roomID]
	if ok {
		delete(room.clients, client)
		if len(room.clients) == 0 {
			delete(s.hub.rooms, roomID)
		} else {
			room = nil
		}
	}
	s.hub.mu.Unlock()

	if ok && room != nil {
		for _, sub := range room.subs {
			_ = sub.Close()
		}
		room.cancel()
	}

	s.hub.log.Debug().Str("room_id", roomID).Str("user_id", client.options.UserID).Msg("stream client disconnected")
}

func (s *streamService) broadcast(roomID string, frame StreamFrame) {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()

	room, ok := s.hub.rooms[roomID]
	if !ok {
		return
	}

	for client := range room.clients {
		select {
		case client.send <- frame:
		default:
			s.hub.log.Warn().Str("room_id", roomID).Str("user_id", client.options.UserID).Msg("dropping stream frame for slow client")
		}
	}
}

func (c *streamClient) reader() {
	defer c.close()

	for {
		var frame StreamFrame
		if err := c.conn.ReadJSON(&frame); err != nil {
			c.service.logger.Debug().Err(err).Msg("stream read loop ended")
			return
		}

		switch frame.Type {
		case FrameTrack:
			if frame.State == nil {
				continue
			}
			state := *frame.State
			// Identity comes from the upgrade, never from the frame.
			state.UserID = c.options.UserID
			if err := c.service.presence.Track(c.baseCtx, c.options.RoomID, c.options.ClientID, state); err != nil {
				c.service.logger.Warn().Err(err).Msg("failed to track presence for stream client")
			}
			observability.PresenceTracks().Inc()

		case FrameUntrack:
			if err := c.service.presence.Untrack(c.baseCtx, c.options.RoomID, c.options.ClientID); err != nil {
				c.service.logger.Warn().Err(err).Msg("failed to untrack presence for stream client")
			}

		default:
			c.service.logger.Debug().Str("type", frame.Type).Msg("ignoring unknown stream frame type")
		}
	}
}

func (c *streamClient) writer() {
	defer c.close()

	for {
		select {
		case frame, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.WriteJSON(frame); err != nil {
				c.service.logger.Debug().Err(err).Msg("stream write loop terminated")
				return
			}
		case <-time.After(streamPingInterval):
			if err := c.conn.WriteMessage(websocket.PingMessage, []byte("keepalive")); err != nil {
				c.service.logger.Debug().Err(err).Msg("stream ping failed")
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *streamClient) close() {
	c.once.Do(func() {
		close(c.closed)
		c.service.unregister(c)
		if err := c.service.presence.Untrack(context.Background(), c.options.RoomID, c.options.ClientID); err != nil {
			c.service.logger.Debug().Err(err).Msg("failed to clear presence on disconnect")
		}
		observability.StreamClients().Dec()
		_ = c.conn.Close()
	})
}
