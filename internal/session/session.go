// Package session implements the client-side room synchronization core: it
// reconciles an initial snapshot fetch with the live change feed and the
// presence channel into a single consistent, ordered view of a room.
package session

import (
	"context"
	"fmt"
	"sort"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/realtime"
)

const (
	defaultTypingClearAfter = 3 * time.Second
	taskBufferSize          = 256
	teardownTimeout         = 2 * time.Second
)

// Snapshot is the one-time bulk read used to seed the view before live
// events are applied. Messages arrive in creation order with reactions
// already merged by message id.
type Snapshot struct {
	Participants []dto.ParticipantResponse
	Messages     []dto.MessageResponse
}

// Backend is the session's interface to the data/query side of the service.
// Mutations round-trip: the view only changes when the confirming event
// arrives on the feed, never optimistically.
type Backend interface {
	LoadSnapshot(ctx context.Context, roomID string) (Snapshot, error)
	SendMessage(ctx context.Context, req dto.MessageSendRequest) error
	EditMessage(ctx context.Context, messageID string, req dto.MessageEditRequest) error
	DeleteMessage(ctx context.Context, messageID string, req dto.MessageDeleteRequest) error
	ToggleReaction(ctx context.Context, messageID string, req dto.ReactionToggleRequest) error
	MarkOffline(ctx context.Context, roomID, userID string) error
}

// Notifier receives messages authored by other users. Implementations decide
// whether anything is shown (e.g. suppressing while the app is visible).
type Notifier interface {
	MessageReceived(senderName, text, roomCode string)
}

// Options configures a room session.
type Options struct {
	RoomID   string
	RoomCode string
	UserID   string
	UserName string

	Backend  Backend
	Feed     realtime.Feed
	Presence realtime.Presence
	Notifier Notifier

	// TypingClearAfter bounds how long a typing indicator survives after the
	// last keystroke. Defaults to 3 seconds.
	TypingClearAfter time.Duration

	OnStateChange func(ConnectionState)
	Logger        zerolog.Logger
}

// Session maintains the live view of one room. All state mutation happens on
// a single event-loop goroutine: feed callbacks, presence syncs, and intent
// side effects are serialized, so no locking guards the view itself.
type Session struct {
	opts     Options
	clientID string
	log      zerolog.Logger

	tasks   chan func()
	updates chan struct{}
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	// Loop-owned state.
	view            View
	orphanReactions map[string][]dto.ReactionResponse

	subMu   gosync.Mutex
	feedSub realtime.Subscription
	presSub realtime.Subscription

	typingMu    gosync.Mutex
	isTyping    bool
	typingTimer *time.Timer

	closeOnce gosync.Once
}

// Open subscribes to the room's change feed and presence channel, then loads
// the snapshot asynchronously. The returned session is not Ready until the
// snapshot has been installed; watch Updates or OnStateChange.
func Open(ctx context.Context, opts Options) (*Session, error) {
	if opts.RoomID == "" || opts.UserID == "" {
		return nil, fmt.Errorf("session requires room id and user id")
	}
	if opts.Backend == nil || opts.Feed == nil || opts.Presence == nil {
		return nil, fmt.Errorf("session requires backend, feed, and presence collaborators")
	}
	if opts.TypingClearAfter <= 0 {
		opts.TypingClearAfter = defaultTypingClearAfter
	}

	s := &Session{
		opts:            opts,
		clientID:        uuid.NewString(),
		log:             opts.Logger.With().Str("component", "room_session").Str("room_id", opts.RoomID).Logger(),
		tasks:           make(chan func(), taskBufferSize),
		updates:         make(chan struct{}, 1),
		done:            make(chan struct{}),
		view:            View{State: StateConnecting, AtBottom: true},
		orphanReactions: make(map[string][]dto.ReactionResponse),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	go s.run()

	// Two scoped resources under one guard: if the second subscription fails,
	// Close releases the first.
	feedSub, err := opts.Feed.Subscribe(s.ctx, opts.RoomID, s.onFeedEvent, s.onChannelDrop)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	s.setSubscriptions(feedSub, nil)

	presSub, err := opts.Presence.Subscribe(s.ctx, opts.RoomID, s.onPresenceSync, s.onChannelDrop)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to subscribe to presence channel: %w", err)
	}
	s.setSubscriptions(feedSub, presSub)

	// Announce ourselves on subscribe ack; without this the local user is
	// invisible in everyone else's online/typing view.
	s.publishPresence(false)

	go s.loadSnapshot(ctx)

	return s, nil
}

func (s *Session) run() {
	defer close(s.done)

	for {
		select {
		case task := <-s.tasks:
			task()
			s.signalUpdate()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) enqueue(task func()) {
	select {
	case s.tasks <- task:
	case <-s.ctx.Done():
		// Session closed; late callbacks become safe no-ops.
	}
}

func (s *Session) signalUpdate() {
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

// Updates signals (coalesced) whenever the view may have changed.
func (s *Session) Updates() <-chan struct{} {
	return s.updates
}

// View returns a consistent copy of the current view.
func (s *Session) View() View {
	result := make(chan View, 1)
	select {
	case s.tasks <- func() { result <- s.view.Clone() }:
	case <-s.ctx.Done():
		return View{State: StateDisconnected}
	}

	select {
	case view := <-result:
		return view
	case <-s.ctx.Done():
		return View{State: StateDisconnected}
	}
}

func (s *Session) onFeedEvent(event realtime.ChangeEvent) {
	s.enqueue(func() { s.applyChange(event) })
}

func (s *Session) onPresenceSync(state map[string][]realtime.PresenceState) {
	s.enqueue(func() { s.applyPresenceSync(state) })
}

func (s *Session) onChannelDrop(err error) {
	s.log.Warn().Err(err).Msg("room subscription lost")
	s.enqueue(func() { s.setState(StateDisconnected) })
}

func (s *Session) setState(state ConnectionState) {
	if s.view.State == state {
		return
	}
	s.view.State = state
	if s.opts.OnStateChange != nil {
		s.opts.OnStateChange(state)
	}
}

// applyPresenceSync rebuilds the typing list from scratch on every sync:
// a full replace, so stale entries cannot linger. The local user is excluded.
func (s *Session) applyPresenceSync(state map[string][]realtime.PresenceState) {
	var typing []string
	for userID, states := range state {
		if userID == s.opts.UserID {
			continue
		}
		for _, entry := range states {
			if entry.IsTyping {
				typing = append(typing, entry.UserName)
				break
			}
		}
	}
	sort.Strings(typing)
	s.view.TypingUsers = typing
}

func (s *Session) loadSnapshot(ctx context.Context) {
	snapshot, err := s.opts.Backend.LoadSnapshot(ctx, s.opts.RoomID)

	// The view is installed atomically: either the whole snapshot lands or
	// none of it does.
	s.enqueue(func() {
		if err != nil {
			s.log.Error().Err(err).Msg("failed to load room snapshot")
			s.view.Ready = false
			s.view.LoadErr = err
			s.setState(StateDisconnected)
			return
		}

		s.view.Participants = snapshot.Participants
		s.view.Messages = snapshot.Messages
		// Reactions delivered during the fetch reference messages that are
		// already in the snapshot; fold them in or they stay parked until
		// the next resync.
		for i := range s.view.Messages {
			s.adoptOrphanReactions(&s.view.Messages[i])
		}
		s.view.Ready = true
		s.view.LoadErr = nil
		s.view.recomputeOnlineCount()
		s.setState(StateLive)
	})
}

// Resync recovers from a lost subscription: it tears down both channels,
// re-subscribes, re-publishes presence, and reloads the snapshot. The feed
// has no resumable cursor, so this is the only catch-up mechanism.
func (s *Session) Resync(ctx context.Context) error {
	s.teardownSubscriptions()
	s.enqueue(func() { s.setState(StateConnecting) })

	feedSub, err := s.opts.Feed.Subscribe(s.ctx, s.opts.RoomID, s.onFeedEvent, s.onChannelDrop)
	if err != nil {
		s.enqueue(func() { s.setState(StateDisconnected) })
		return fmt.Errorf("failed to re-subscribe to change feed: %w", err)
	}
	s.setSubscriptions(feedSub, nil)

	presSub, err := s.opts.Presence.Subscribe(s.ctx, s.opts.RoomID, s.onPresenceSync, s.onChannelDrop)
	if err != nil {
		s.teardownSubscriptions()
		s.enqueue(func() { s.setState(StateDisconnected) })
		return fmt.Errorf("failed to re-subscribe to presence channel: %w", err)
	}
	s.setSubscriptions(feedSub, presSub)

	// Reconnecting must re-publish presence or the user silently vanishes
	// from other viewers.
	s.publishPresence(s.typing())

	s.loadSnapshot(ctx)
	return nil
}

// Send posts a message. The view updates when the insert event returns on the
// feed; an error here means no event will arrive and the user must retry.
func (s *Session) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	err := s.opts.Backend.SendMessage(ctx, dto.MessageSendRequest{
		RoomID:     s.opts.RoomID,
		SenderID:   s.opts.UserID,
		SenderName: s.opts.UserName,
		Text:       text,
	})
	if err != nil {
		return err
	}

	s.SetTyping(false)
	return nil
}

// Edit rewrites an owned message.
func (s *Session) Edit(ctx context.Context, messageID, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	return s.opts.Backend.EditMessage(ctx, messageID, dto.MessageEditRequest{
		SenderID: s.opts.UserID,
		Text:     text,
	})
}

// Delete removes an owned message.
func (s *Session) Delete(ctx context.Context, messageID string) error {
	return s.opts.Backend.DeleteMessage(ctx, messageID, dto.MessageDeleteRequest{
		SenderID: s.opts.UserID,
	})
}

// ToggleReaction adds the reaction if absent, removes it if present.
func (s *Session) ToggleReaction(ctx context.Context, messageID, kind string) error {
	return s.opts.Backend.ToggleReaction(ctx, messageID, dto.ReactionToggleRequest{
		UserID: s.opts.UserID,
		Kind:   kind,
	})
}

// SetTyping publishes the local typing state. A true publish auto-clears
// after TypingClearAfter unless another keystroke restarts the timer.
// Failures are swallowed: typing indication is best-effort.
func (s *Session) SetTyping(typing bool) {
	s.typingMu.Lock()
	s.isTyping = typing
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
	if typing {
		s.typingTimer = time.AfterFunc(s.opts.TypingClearAfter, func() { s.SetTyping(false) })
	}
	s.typingMu.Unlock()

	s.publishPresence(typing)
}

// MarkAtBottom records whether the viewer is at the bottom of the scroll
// region; being at the bottom clears the new-message badge.
func (s *Session) MarkAtBottom(atBottom bool) {
	s.enqueue(func() {
		s.view.AtBottom = atBottom
		if atBottom {
			s.view.NewMessages = 0
			s.view.ScrollRequested = false
		}
	})
}

// AckScroll acknowledges a requested auto-scroll.
func (s *Session) AckScroll() {
	s.enqueue(func() { s.view.ScrollRequested = false })
}

// Close tears down both subscriptions, clears presence, and best-effort marks
// the participant offline. Safe to call while a snapshot fetch is in flight;
// the fetch's eventual resolution is dropped.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.typingMu.Lock()
		if s.typingTimer != nil {
			s.typingTimer.Stop()
			s.typingTimer = nil
		}
		s.typingMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
		defer cancel()

		if err := s.opts.Presence.Untrack(ctx, s.opts.RoomID, s.clientID); err != nil {
			s.log.Debug().Err(err).Msg("failed to clear presence on close")
		}

		s.teardownSubscriptions()

		if err := s.opts.Backend.MarkOffline(ctx, s.opts.RoomID, s.opts.UserID); err != nil {
			s.log.Debug().Err(err).Msg("failed to mark participant offline")
		}

		s.cancel()
		<-s.done
	})
}

func (s *Session) setSubscriptions(feedSub, presSub realtime.Subscription) {
	s.subMu.Lock()
	s.feedSub = feedSub
	s.presSub = presSub
	s.subMu.Unlock()
}

func (s *Session) teardownSubscriptions() {
	s.subMu.Lock()
	feedSub, presSub := s.feedSub, s.presSub
	s.feedSub, s.presSub = nil, nil
	s.subMu.Unlock()

	if feedSub != nil {
		_ = feedSub.Close()
	}
	if presSub != nil {
		_ = presSub.Close()
	}
}

func (s *Session) typing() bool {
	s.typingMu.Lock()
	defer s.typingMu.Unlock()
	return s.isTyping
}

func (s *Session) publishPresence(typing bool) {
	err := s.opts.Presence.Track(s.ctx, s.opts.RoomID, s.clientID, realtime.PresenceState{
		UserID:   s.opts.UserID,
		UserName: s.opts.UserName,
		IsTyping: typing,
		OnlineAt: time.Now().UTC(),
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("failed to publish presence")
	}
}
