package session

import (
	"fmt"

	"github.com/realchat/roomsync/internal/dto"
)

// ConnectionState describes the session's link to the room's live channels.
type ConnectionState string

// Connection states reported through Options.OnStateChange and View.State.
const (
	StateConnecting   ConnectionState = "connecting"
	StateLive         ConnectionState = "live"
	StateDisconnected ConnectionState = "disconnected"
)

// View is the denormalized in-memory room state. It is owned by the session's
// event loop; callers get consistent copies via Session.View.
type View struct {
	State   ConnectionState
	Ready   bool
	LoadErr error

	Participants []dto.ParticipantResponse
	Messages     []dto.MessageResponse
	TypingUsers  []string

	// OnlineCount is recomputed from the full roster on every participant
	// change, never drifted incrementally.
	OnlineCount int

	// NewMessages counts messages appended since the viewer was last at the
	// bottom of the scroll region.
	NewMessages int

	// AtBottom reports whether the viewer has confirmed being at the bottom.
	AtBottom bool

	// ScrollRequested is set when an arriving message should scroll the view,
	// and cleared by MarkAtBottom or AckScroll.
	ScrollRequested bool
}

// Clone returns a deep copy safe to hand outside the event loop.
func (v View) Clone() View {
	out := v

	out.Participants = append([]dto.ParticipantResponse(nil), v.Participants...)
	out.TypingUsers = append([]string(nil), v.TypingUsers...)

	out.Messages = make([]dto.MessageResponse, len(v.Messages))
	for i, message := range v.Messages {
		copied := message
		copied.Reactions = append([]dto.ReactionResponse(nil), message.Reactions...)
		out.Messages[i] = copied
	}

	return out
}

func (v *View) recomputeOnlineCount() {
	count := 0
	for _, participant := range v.Participants {
		if participant.IsOnline {
			count++
		}
	}
	v.OnlineCount = count
}

func (v *View) messageIndex(id string) int {
	for i := range v.Messages {
		if v.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (v *View) participantIndex(id string) int {
	for i := range v.Participants {
		if v.Participants[i].ID == id {
			return i
		}
	}
	return -1
}

// TypingText renders the typing indicator line for a list of user names.
func TypingText(users []string) string {
	switch len(users) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing", users[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing", users[0], users[1])
	default:
		return fmt.Sprintf("%d people are typing", len(users))
	}
}

// ReactionTally is the aggregated count for one reaction kind on a message.
type ReactionTally struct {
	Kind  string
	Count int
	Mine  bool
}

// ReactionTallies groups a message's reactions by kind in first-seen order,
// marking the kinds the local user contributed.
func ReactionTallies(message dto.MessageResponse, localUserID string) []ReactionTally {
	var tallies []ReactionTally
	index := make(map[string]int)

	for _, reaction := range message.Reactions {
		i, seen := index[reaction.Kind]
		if !seen {
			index[reaction.Kind] = len(tallies)
			tallies = append(tallies, ReactionTally{Kind: reaction.Kind})
			i = len(tallies) - 1
		}
		tallies[i].Count++
		if reaction.UserID == localUserID {
			tallies[i].Mine = true
		}
	}

	return tallies
}
