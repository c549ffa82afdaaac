package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/realchat/roomsync/internal/realtime"
)

type streamTestSubscription struct {
	closed chan struct{}
}

func newStreamTestSubscription() *streamTestSubscription {
	return &streamTestSubscription{closed: make(chan struct{}, 1)}
}

func (s *streamTestSubscription) Close() error {
	select {
	case s.closed <- struct{}{}:
	default:
	}
	return nil
}

type streamTestFeed struct {
	handler realtime.Handler
	sub     *streamTestSubscription
}

func (f *streamTestFeed) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	return nil
}

func (f *streamTestFeed) Subscribe(ctx context.Context, roomID string, handler realtime.Handler, onDrop realtime.DropHandler) (realtime.Subscription, error) {
	f.handler = handler
	f.sub = newStreamTestSubscription()
	return f.sub, nil
}

type streamTestPresence struct {
	onSync    realtime.SyncHandler
	sub       *streamTestSubscription
	tracked   map[string]realtime.PresenceState
	untracked []string
}

func newStreamTestPresence() *streamTestPresence {
	return &streamTestPresence{tracked: make(map[string]realtime.PresenceState)}
}

func (p *streamTestPresence) Track(ctx context.Context, roomID, clientID string, state realtime.PresenceState) error {
	p.tracked[clientID] = state
	return nil
}

func (p *streamTestPresence) Untrack(ctx context.Context, roomID, clientID string) error {
	p.untracked = append(p.untracked, clientID)
	return nil
}

func (p *streamTestPresence) Subscribe(ctx context.Context, roomID string, onSync realtime.SyncHandler, onDrop realtime.DropHandler) (realtime.Subscription, error) {
	p.onSync = onSync
	p.sub = newStreamTestSubscription()
	return p.sub, nil
}

func newHubClient(svc *streamService, roomID, userID string) *streamClient {
	return &streamClient{
		send:    make(chan StreamFrame, streamSendBufferSize),
		options: StreamConnectionOptions{RoomID: roomID, UserID: userID, ClientID: userID + "-dev"},
		service: svc,
		closed:  make(chan struct{}),
		baseCtx: context.Background(),
	}
}

func TestStreamHubSharesUpstreamAcrossClients(t *testing.T) {
	feed := &streamTestFeed{}
	presence := newStreamTestPresence()
	svc := NewStreamService(feed, presence, zerolog.Nop()).(*streamService)

	first := newHubClient(svc, "room-1", "user-a")
	second := newHubClient(svc, "room-1", "user-b")
	require.NoError(t, svc.register(first))

	firstFeedSub := feed.sub
	require.NoError(t, svc.register(second))
	require.Same(t, firstFeedSub, feed.sub, "second client must reuse the room's subscription")

	event, err := realtime.NewChange(realtime.TableMessages, realtime.EventInsert, "room-1", nil, map[string]string{"id": "m1"})
	require.NoError(t, err)
	feed.handler(event)

	for _, client := range []*streamClient{first, second} {
		select {
		case frame := <-client.send:
			require.Equal(t, FrameChange, frame.Type)
			require.NotNil(t, frame.Event)
			require.Equal(t, "room-1", frame.Event.RoomID)
		case <-time.After(time.Second):
			t.Fatal("client did not receive change frame")
		}
	}
}

func TestStreamHubForwardsPresenceSync(t *testing.T) {
	feed := &streamTestFeed{}
	presence := newStreamTestPresence()
	svc := NewStreamService(feed, presence, zerolog.Nop()).(*streamService)

	client := newHubClient(svc, "room-1", "user-a")
	require.NoError(t, svc.register(client))

	presence.onSync(map[string][]realtime.PresenceState{
		"user-b": {{UserID: "user-b", UserName: "Bea", IsTyping: true}},
	})

	select {
	case frame := <-client.send:
		require.Equal(t, FramePresence, frame.Type)
		require.Len(t, frame.Presence["user-b"], 1)
		require.True(t, frame.Presence["user-b"][0].IsTyping)
	case <-time.After(time.Second):
		t.Fatal("client did not receive presence frame")
	}
}

func TestStreamHubDropsFramesForSlowClient(t *testing.T) {
	feed := &streamTestFeed{}
	svc := NewStreamService(feed, newStreamTestPresence(), zerolog.Nop()).(*streamService)

	client := newHubClient(svc, "room-1", "user-a")
	require.NoError(t, svc.register(client))

	event, err := realtime.NewChange(realtime.TableMessages, realtime.EventInsert, "room-1", nil, map[string]string{"id": "m1"})
	require.NoError(t, err)

	// Nobody drains client.send; overflow must not block the hub.
	done := make(chan struct{})
	go func() {
		for i := 0; i < streamSendBufferSize+8; i++ {
			feed.handler(event)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}
	require.Len(t, client.send, streamSendBufferSize)
}

func TestStreamHubLastClientTearsDownUpstream(t *testing.T) {
	feed := &streamTestFeed{}
	presence := newStreamTestPresence()
	svc := NewStreamService(feed, presence, zerolog.Nop()).(*streamService)

	first := newHubClient(svc, "room-1", "user-a")
	second := newHubClient(svc, "room-1", "user-b")
	require.NoError(t, svc.register(first))
	require.NoError(t, svc.register(second))

	svc.unregister(first)
	select {
	case <-feed.sub.closed:
		t.Fatal("upstream closed while a client remains")
	default:
	}

	svc.unregister(second)
	select {
	case <-feed.sub.closed:
	case <-time.After(time.Second):
		t.Fatal("feed subscription not closed after last client left")
	}
	select {
	case <-presence.sub.closed:
	case <-time.After(time.Second):
		t.Fatal("presence subscription not closed after last client left")
	}
}
