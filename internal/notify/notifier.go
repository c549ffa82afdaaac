// Package notify turns foreign-message arrivals into user-facing
// notifications, suppressing them while the room view is visible.
package notify

import (
	"github.com/rs/zerolog"

	"github.com/realchat/roomsync/internal/roomcode"
)

// Notification is the rendered payload handed to a sink. Tag collapses
// repeated notifications for the same room into one.
type Notification struct {
	Title string
	Body  string
	Tag   string
	Link  string
}

// Sink delivers a notification to the user. Delivery is best-effort; errors
// are logged and dropped.
type Sink interface {
	Deliver(notification Notification) error
}

// Dispatcher builds and routes notifications. It implements the session's
// Notifier contract.
type Dispatcher struct {
	sink    Sink
	visible func() bool
	log     zerolog.Logger
}

// NewDispatcher constructs a dispatcher. visible reports whether the room
// view currently has the user's attention; when it returns true incoming
// messages are not announced. A nil visible never suppresses.
func NewDispatcher(sink Sink, visible func() bool, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		sink:    sink,
		visible: visible,
		log:     logger.With().Str("component", "notify").Logger(),
	}
}

// MessageReceived announces a message from another user unless the view is
// visible.
func (d *Dispatcher) MessageReceived(senderName, text, roomCode string) {
	if d.sink == nil {
		return
	}
	if d.visible != nil && d.visible() {
		return
	}

	notification := Notification{
		Title: senderName,
		Body:  text,
		Tag:   "room-" + roomCode,
		Link:  roomcode.DeepLink(roomCode),
	}

	if err := d.sink.Deliver(notification); err != nil {
		d.log.Debug().Err(err).Str("room_code", roomCode).Msg("notification delivery failed")
	}
}

// LogSink writes notifications to the application log. It is the fallback
// when no platform notifier is wired.
type LogSink struct {
	Log zerolog.Logger
}

// Deliver implements Sink.
func (s LogSink) Deliver(notification Notification) error {
	s.Log.Info().
		Str("title", notification.Title).
		Str("tag", notification.Tag).
		Str("link", notification.Link).
		Msg(notification.Body)
	return nil
}
