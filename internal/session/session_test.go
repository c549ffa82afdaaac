package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/realtime"
)

type fakeSubscription struct {
	closed bool
	mu     sync.Mutex
}

func (s *fakeSubscription) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeFeed struct {
	mu      sync.Mutex
	handler realtime.Handler
	onDrop  realtime.DropHandler
	subs    int
}

func (f *fakeFeed) Publish(ctx context.Context, event realtime.ChangeEvent) error {
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	if handler != nil {
		handler(event)
	}
	return nil
}

func (f *fakeFeed) Subscribe(ctx context.Context, roomID string, handler realtime.Handler, onDrop realtime.DropHandler) (realtime.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = handler
	f.onDrop = onDrop
	f.subs++
	return &fakeSubscription{}, nil
}

func (f *fakeFeed) emit(t *testing.T, table realtime.Table, eventType realtime.EventType, oldRow, newRow any) {
	t.Helper()
	event, err := realtime.NewChange(table, eventType, "room-1", oldRow, newRow)
	require.NoError(t, err)
	f.mu.Lock()
	handler := f.handler
	f.mu.Unlock()
	require.NotNil(t, handler)
	handler(event)
}

func (f *fakeFeed) drop(err error) {
	f.mu.Lock()
	onDrop := f.onDrop
	f.mu.Unlock()
	onDrop(err)
}

type fakePresence struct {
	mu      sync.Mutex
	tracked map[string]realtime.PresenceState
	onSync  realtime.SyncHandler
}

func newFakePresence() *fakePresence {
	return &fakePresence{tracked: make(map[string]realtime.PresenceState)}
}

func (p *fakePresence) Track(ctx context.Context, roomID, clientID string, state realtime.PresenceState) error {
	p.mu.Lock()
	p.tracked[clientID] = state
	p.mu.Unlock()
	p.sync()
	return nil
}

func (p *fakePresence) Untrack(ctx context.Context, roomID, clientID string) error {
	p.mu.Lock()
	delete(p.tracked, clientID)
	p.mu.Unlock()
	p.sync()
	return nil
}

func (p *fakePresence) Subscribe(ctx context.Context, roomID string, onSync realtime.SyncHandler, onDrop realtime.DropHandler) (realtime.Subscription, error) {
	p.mu.Lock()
	p.onSync = onSync
	p.mu.Unlock()
	return &fakeSubscription{}, nil
}

func (p *fakePresence) sync() {
	p.mu.Lock()
	state := make(map[string][]realtime.PresenceState)
	for _, entry := range p.tracked {
		state[entry.UserID] = append(state[entry.UserID], entry)
	}
	onSync := p.onSync
	p.mu.Unlock()
	if onSync != nil {
		onSync(state)
	}
}

type fakeBackend struct {
	mu       sync.Mutex
	snapshot Snapshot
	loadErr  error
	loadGate chan struct{}
	loads    int
	sent     []dto.MessageSendRequest
	offline  int
}

func (b *fakeBackend) LoadSnapshot(ctx context.Context, roomID string) (Snapshot, error) {
	b.mu.Lock()
	b.loads++
	snapshot, err, gate := b.snapshot, b.loadErr, b.loadGate
	b.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return snapshot, err
}

func (b *fakeBackend) SendMessage(ctx context.Context, req dto.MessageSendRequest) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, req)
	return nil
}

func (b *fakeBackend) EditMessage(ctx context.Context, messageID string, req dto.MessageEditRequest) error {
	return nil
}

func (b *fakeBackend) DeleteMessage(ctx context.Context, messageID string, req dto.MessageDeleteRequest) error {
	return nil
}

func (b *fakeBackend) ToggleReaction(ctx context.Context, messageID string, req dto.ReactionToggleRequest) error {
	return nil
}

func (b *fakeBackend) MarkOffline(ctx context.Context, roomID, userID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.offline++
	return nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *recordingNotifier) MessageReceived(senderName, text, roomCode string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, senderName+": "+text)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.calls)
}

func messageRow(id, senderID, senderName, text string, at time.Time) map[string]any {
	return map[string]any{
		"id":          id,
		"room_id":     "room-1",
		"sender_id":   senderID,
		"sender_name": senderName,
		"text":        text,
		"is_edited":   false,
		"created_at":  at.Format(time.RFC3339Nano),
	}
}

func reactionRow(id, messageID, userID, kind string) map[string]any {
	return map[string]any{
		"id":         id,
		"message_id": messageID,
		"room_id":    "room-1",
		"user_id":    userID,
		"kind":       kind,
	}
}

func openTestSession(t *testing.T, backend *fakeBackend, feed *fakeFeed, presence *fakePresence, notifier Notifier) *Session {
	t.Helper()
	s, err := Open(context.Background(), Options{
		RoomID:   "room-1",
		RoomCode: "ABCDEF",
		UserID:   "user-me",
		UserName: "Me",
		Backend:  backend,
		Feed:     feed,
		Presence: presence,
		Notifier: notifier,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func waitFor(t *testing.T, s *Session, cond func(View) bool) View {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		view := s.View()
		if cond(view) {
			return view
		}
		select {
		case <-s.Updates():
		case <-time.After(10 * time.Millisecond):
		case <-deadline:
			t.Fatalf("condition not reached, last view: %+v", view)
		}
	}
}

func TestSessionSnapshotInstall(t *testing.T) {
	backend := &fakeBackend{snapshot: Snapshot{
		Participants: []dto.ParticipantResponse{
			{ID: "p1", RoomID: "room-1", UserID: "user-me", UserName: "Me", IsOnline: true},
			{ID: "p2", RoomID: "room-1", UserID: "user-b", UserName: "Bea", IsOnline: true},
		},
		Messages: []dto.MessageResponse{
			{ID: "m1", RoomID: "room-1", SenderID: "user-b", SenderName: "Bea", Text: "hello", CreatedAt: time.Now().Add(-time.Minute)},
		},
	}}
	s := openTestSession(t, backend, &fakeFeed{}, newFakePresence(), nil)

	view := waitFor(t, s, func(v View) bool { return v.Ready })
	require.Equal(t, StateLive, view.State)
	require.Len(t, view.Messages, 1)
	require.Equal(t, 2, view.OnlineCount)
}

func TestSessionDuplicateInsertIgnored(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	row := messageRow("m1", "user-b", "Bea", "hello", time.Now())
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, row)
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, row)

	view := waitFor(t, s, func(v View) bool { return len(v.Messages) > 0 })
	require.Len(t, view.Messages, 1)
}

func TestSessionInsertKeepsCreationOrder(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	now := time.Now()
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m2", "user-b", "Bea", "second", now))
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m1", "user-b", "Bea", "first", now.Add(-time.Second)))

	view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 2 })
	require.Equal(t, "m1", view.Messages[0].ID)
	require.Equal(t, "m2", view.Messages[1].ID)
}

func TestSessionUpdateOnlyTouchesTextAndEditFlag(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m1", "user-b", "Bea", "hello", time.Now()))
	waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 })

	feed.emit(t, realtime.TableReactions, realtime.EventInsert, nil, reactionRow("r1", "m1", "user-me", "👍"))
	row := messageRow("m1", "user-b", "Bea", "hello edited", time.Now())
	row["is_edited"] = true
	feed.emit(t, realtime.TableMessages, realtime.EventUpdate, nil, row)

	view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 && v.Messages[0].IsEdited })
	require.Equal(t, "hello edited", view.Messages[0].Text)
	require.Len(t, view.Messages[0].Reactions, 1, "edits must preserve attached reactions")
}

func TestSessionUpdateForUnknownMessageIsNoOp(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	feed.emit(t, realtime.TableMessages, realtime.EventUpdate, nil, messageRow("ghost", "user-b", "Bea", "boo", time.Now()))

	view := waitFor(t, s, func(v View) bool { return v.Ready })
	require.Empty(t, view.Messages)
}

func TestSessionReactionBeforeMessageIsAttachedOnArrival(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	feed.emit(t, realtime.TableReactions, realtime.EventInsert, nil, reactionRow("r1", "m1", "user-b", "🔥"))
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m1", "user-b", "Bea", "hot take", time.Now()))

	view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 })
	require.Len(t, view.Messages[0].Reactions, 1)
	require.Equal(t, "🔥", view.Messages[0].Reactions[0].Kind)
}

func TestSessionReactionDuringSnapshotFetchLandsOnSnapshotMessage(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{
		snapshot: Snapshot{Messages: []dto.MessageResponse{
			{ID: "m1", RoomID: "room-1", SenderID: "user-b", SenderName: "Bea", Text: "hello", CreatedAt: time.Now().Add(-time.Minute)},
		}},
		loadGate: gate,
	}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)

	// The feed is live before the snapshot returns; deliver the reaction in
	// that window.
	feed.emit(t, realtime.TableReactions, realtime.EventInsert, nil, reactionRow("r1", "m1", "user-b", "🔥"))
	close(gate)

	view := waitFor(t, s, func(v View) bool { return v.Ready })
	require.Len(t, view.Messages, 1)
	require.Len(t, view.Messages[0].Reactions, 1)
	require.Equal(t, "r1", view.Messages[0].Reactions[0].ID)
}

func TestSessionMessageDeleteRegardlessOfReactionDeleteOrder(t *testing.T) {
	for name, reactionFirst := range map[string]bool{"reaction delete first": true, "message delete first": false} {
		t.Run(name, func(t *testing.T) {
			backend := &fakeBackend{}
			feed := &fakeFeed{}
			s := openTestSession(t, backend, feed, newFakePresence(), nil)
			waitFor(t, s, func(v View) bool { return v.Ready })

			msg := messageRow("m1", "user-b", "Bea", "going away", time.Now())
			reaction := reactionRow("r1", "m1", "user-me", "😢")
			feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, msg)
			feed.emit(t, realtime.TableReactions, realtime.EventInsert, nil, reaction)
			waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 && len(v.Messages[0].Reactions) == 1 })

			if reactionFirst {
				feed.emit(t, realtime.TableReactions, realtime.EventDelete, reaction, nil)
				feed.emit(t, realtime.TableMessages, realtime.EventDelete, msg, nil)
			} else {
				feed.emit(t, realtime.TableMessages, realtime.EventDelete, msg, nil)
				feed.emit(t, realtime.TableReactions, realtime.EventDelete, reaction, nil)
			}

			view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 0 })
			require.Empty(t, view.Messages)
		})
	}
}

func TestSessionReactionToggleConverges(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m1", "user-b", "Bea", "react to me", time.Now()))
	reaction := reactionRow("r1", "m1", "user-me", "❤️")
	feed.emit(t, realtime.TableReactions, realtime.EventInsert, nil, reaction)
	feed.emit(t, realtime.TableReactions, realtime.EventInsert, nil, reaction)
	waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 && len(v.Messages[0].Reactions) == 1 })

	feed.emit(t, realtime.TableReactions, realtime.EventDelete, reaction, nil)
	view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 && len(v.Messages[0].Reactions) == 0 })

	tallies := ReactionTallies(view.Messages[0], "user-me")
	require.Empty(t, tallies)
}

func TestSessionBadgeRules(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	notifier := &recordingNotifier{}
	s := openTestSession(t, backend, feed, newFakePresence(), notifier)
	waitFor(t, s, func(v View) bool { return v.Ready })

	// At bottom: no badge, auto-scroll requested instead.
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m1", "user-b", "Bea", "one", time.Now()))
	view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 })
	require.Equal(t, 0, view.NewMessages)
	require.True(t, view.ScrollRequested)

	// Scrolled up: others' messages increment the badge.
	s.MarkAtBottom(false)
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m2", "user-b", "Bea", "two", time.Now()))
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m3", "user-b", "Bea", "three", time.Now()))
	view = waitFor(t, s, func(v View) bool { return len(v.Messages) == 3 })
	require.Equal(t, 2, view.NewMessages)

	// Own message while scrolled up: badge resets and scroll is forced.
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m4", "user-me", "Me", "mine", time.Now()))
	view = waitFor(t, s, func(v View) bool { return len(v.Messages) == 4 })
	require.Equal(t, 0, view.NewMessages)
	require.True(t, view.ScrollRequested)

	// Returning to the bottom clears everything.
	s.MarkAtBottom(true)
	view = waitFor(t, s, func(v View) bool { return v.NewMessages == 0 && !v.ScrollRequested })
	require.Equal(t, 0, view.NewMessages)

	// Notifications fired for the three foreign messages, never for our own.
	require.Equal(t, 3, notifier.count())
}

func TestSessionParticipantEventsRecomputeOnlineCount(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	join := map[string]any{
		"id": "p1", "room_id": "room-1", "user_id": "user-b",
		"user_name": "Bea", "is_online": true,
	}
	feed.emit(t, realtime.TableParticipants, realtime.EventInsert, nil, join)
	view := waitFor(t, s, func(v View) bool { return v.OnlineCount == 1 })
	require.Len(t, view.Participants, 1)

	left := map[string]any{
		"id": "p1", "room_id": "room-1", "user_id": "user-b",
		"user_name": "Bea", "is_online": false,
	}
	feed.emit(t, realtime.TableParticipants, realtime.EventUpdate, nil, left)
	view = waitFor(t, s, func(v View) bool { return v.OnlineCount == 0 })
	require.Len(t, view.Participants, 1, "going offline keeps the roster entry")
}

func TestSessionTypingFromPresenceExcludesSelf(t *testing.T) {
	backend := &fakeBackend{}
	presence := newFakePresence()
	s := openTestSession(t, backend, &fakeFeed{}, presence, nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	require.NoError(t, presence.Track(context.Background(), "room-1", "client-b", realtime.PresenceState{
		UserID: "user-b", UserName: "Bea", IsTyping: true, OnlineAt: time.Now(),
	}))
	s.SetTyping(true)

	view := waitFor(t, s, func(v View) bool { return len(v.TypingUsers) == 1 })
	require.Equal(t, []string{"Bea"}, view.TypingUsers)
}

func TestSessionTypingAutoClears(t *testing.T) {
	backend := &fakeBackend{}
	presence := newFakePresence()
	s, err := Open(context.Background(), Options{
		RoomID:           "room-1",
		RoomCode:         "ABCDEF",
		UserID:           "user-me",
		UserName:         "Me",
		Backend:          backend,
		Feed:             &fakeFeed{},
		Presence:         presence,
		TypingClearAfter: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	s.SetTyping(true)
	require.Eventually(t, func() bool {
		presence.mu.Lock()
		defer presence.mu.Unlock()
		for _, state := range presence.tracked {
			if state.UserID == "user-me" {
				return !state.IsTyping
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestSessionSendClearsTyping(t *testing.T) {
	backend := &fakeBackend{}
	presence := newFakePresence()
	s := openTestSession(t, backend, &fakeFeed{}, presence, nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	s.SetTyping(true)
	require.NoError(t, s.Send(context.Background(), "  hello  "))

	backend.mu.Lock()
	require.Len(t, backend.sent, 1)
	require.Equal(t, "hello", backend.sent[0].Text)
	require.Equal(t, "user-me", backend.sent[0].SenderID)
	backend.mu.Unlock()
	require.False(t, s.typing())
}

func TestSessionSendIgnoresBlankText(t *testing.T) {
	backend := &fakeBackend{}
	s := openTestSession(t, backend, &fakeFeed{}, newFakePresence(), nil)

	require.NoError(t, s.Send(context.Background(), "   "))
	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Empty(t, backend.sent)
}

func TestSessionDropThenResync(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	feed.drop(context.DeadlineExceeded)
	waitFor(t, s, func(v View) bool { return v.State == StateDisconnected })

	require.NoError(t, s.Resync(context.Background()))
	waitFor(t, s, func(v View) bool { return v.State == StateLive })

	backend.mu.Lock()
	loads := backend.loads
	backend.mu.Unlock()
	require.Equal(t, 2, loads, "resync must reload the snapshot")

	feed.mu.Lock()
	subs := feed.subs
	feed.mu.Unlock()
	require.Equal(t, 2, subs)
}

func TestSessionSnapshotFailureReportsError(t *testing.T) {
	backend := &fakeBackend{loadErr: context.DeadlineExceeded}
	s := openTestSession(t, backend, &fakeFeed{}, newFakePresence(), nil)

	view := waitFor(t, s, func(v View) bool { return v.LoadErr != nil })
	require.False(t, view.Ready)
	require.Equal(t, StateDisconnected, view.State)
}

func TestSessionCloseClearsPresenceAndMarksOffline(t *testing.T) {
	backend := &fakeBackend{}
	presence := newFakePresence()
	s := openTestSession(t, backend, &fakeFeed{}, presence, nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	s.Close()

	presence.mu.Lock()
	require.Empty(t, presence.tracked)
	presence.mu.Unlock()

	backend.mu.Lock()
	require.Equal(t, 1, backend.offline)
	backend.mu.Unlock()
}

func TestSessionMalformedRowIsSkipped(t *testing.T) {
	backend := &fakeBackend{}
	feed := &fakeFeed{}
	s := openTestSession(t, backend, feed, newFakePresence(), nil)
	waitFor(t, s, func(v View) bool { return v.Ready })

	feed.mu.Lock()
	handler := feed.handler
	feed.mu.Unlock()
	handler(realtime.ChangeEvent{
		Table:  realtime.TableMessages,
		Type:   realtime.EventInsert,
		RoomID: "room-1",
		New:    json.RawMessage(`{"id":`),
	})
	feed.emit(t, realtime.TableMessages, realtime.EventInsert, nil, messageRow("m1", "user-b", "Bea", "still works", time.Now()))

	view := waitFor(t, s, func(v View) bool { return len(v.Messages) == 1 })
	require.Equal(t, "m1", view.Messages[0].ID)
}
