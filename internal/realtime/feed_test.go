package realtime

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/realchat/roomsync/internal/models"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	server, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(server.Close)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestFeedRoundTrip(t *testing.T) {
	client := newTestRedis(t)
	feed := NewFeed(client, nil, "roomsync", zerolog.Nop())

	received := make(chan ChangeEvent, 4)
	sub, err := feed.Subscribe(context.Background(), "room-1", func(event ChangeEvent) {
		received <- event
	}, nil)
	require.NoError(t, err)
	defer sub.Close()

	message := models.Message{ID: "m1", RoomID: "room-1", SenderID: "user_1", Text: "hello"}
	event, err := NewChange(TableMessages, EventInsert, "room-1", nil, message)
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), event))

	select {
	case got := <-received:
		require.Equal(t, TableMessages, got.Table)
		require.Equal(t, EventInsert, got.Type)
		require.NotEmpty(t, got.Source)

		var decoded models.Message
		require.NoError(t, got.DecodeNew(&decoded))
		require.Equal(t, "m1", decoded.ID)
		require.Equal(t, "hello", decoded.Text)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}
}

func TestFeedScopesSubscriptionsByRoom(t *testing.T) {
	client := newTestRedis(t)
	feed := NewFeed(client, nil, "roomsync", zerolog.Nop())

	received := make(chan ChangeEvent, 4)
	sub, err := feed.Subscribe(context.Background(), "room-1", func(event ChangeEvent) {
		received <- event
	}, nil)
	require.NoError(t, err)
	defer sub.Close()

	other, err := NewChange(TableMessages, EventInsert, "room-2", nil, models.Message{ID: "m2", RoomID: "room-2"})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), other))

	mine, err := NewChange(TableMessages, EventInsert, "room-1", nil, models.Message{ID: "m1", RoomID: "room-1"})
	require.NoError(t, err)
	require.NoError(t, feed.Publish(context.Background(), mine))

	select {
	case got := <-received:
		var decoded models.Message
		require.NoError(t, got.DecodeNew(&decoded))
		require.Equal(t, "m1", decoded.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
	}

	select {
	case unexpected := <-received:
		t.Fatalf("received event for foreign room: %+v", unexpected)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishRequiresRoomID(t *testing.T) {
	feed := NewFeed(newTestRedis(t), nil, "roomsync", zerolog.Nop())
	require.Error(t, feed.Publish(context.Background(), ChangeEvent{Table: TableMessages, Type: EventInsert}))
}
