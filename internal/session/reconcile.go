package session

import (
	"sort"

	"github.com/realchat/roomsync/internal/dto"
	"github.com/realchat/roomsync/internal/models"
	"github.com/realchat/roomsync/internal/realtime"
)

// applyChange merges one feed event into the view. Runs on the event loop.
// The rules are idempotent against duplicate delivery and tolerate cross-table
// arrival in either order: the feed orders events per room subscription, but
// a message insert and its reaction insert may arrive swapped.
func (s *Session) applyChange(event realtime.ChangeEvent) {
	switch event.Table {
	case realtime.TableMessages:
		s.applyMessageChange(event)
	case realtime.TableReactions:
		s.applyReactionChange(event)
	case realtime.TableParticipants:
		s.applyParticipantChange(event)
	default:
		s.log.Debug().Str("table", string(event.Table)).Msg("ignoring event for unknown table")
	}
}

func (s *Session) applyMessageChange(event realtime.ChangeEvent) {
	switch event.Type {
	case realtime.EventInsert:
		var row models.Message
		if err := event.DecodeNew(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid message insert payload")
			return
		}
		if s.view.messageIndex(row.ID) >= 0 {
			return
		}

		message := dto.NewMessageResponse(row)
		s.adoptOrphanReactions(&message)

		s.insertMessage(message)
		s.noteArrival(message)

	case realtime.EventUpdate:
		var row models.Message
		if err := event.DecodeNew(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid message update payload")
			return
		}

		// Unknown id: the insert may not have arrived yet. No-op.
		if i := s.view.messageIndex(row.ID); i >= 0 {
			s.view.Messages[i].Text = row.Text
			s.view.Messages[i].IsEdited = row.IsEdited
		}

	case realtime.EventDelete:
		var row models.Message
		if err := event.DecodeOld(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid message delete payload")
			return
		}

		// Removing the message drops its merged reaction list with it; the
		// cascade holds whether or not separate reaction-delete events ever
		// arrive.
		if i := s.view.messageIndex(row.ID); i >= 0 {
			s.view.Messages = append(s.view.Messages[:i], s.view.Messages[i+1:]...)
		}
		delete(s.orphanReactions, row.ID)
	}
}

// adoptOrphanReactions folds reactions that arrived before their parent
// message into it. Reactions for messages still unseen stay parked.
func (s *Session) adoptOrphanReactions(message *dto.MessageResponse) {
	orphans, ok := s.orphanReactions[message.ID]
	if !ok {
		return
	}
	for _, reaction := range orphans {
		if !containsReaction(message.Reactions, reaction) {
			message.Reactions = append(message.Reactions, reaction)
		}
	}
	delete(s.orphanReactions, message.ID)
}

// insertMessage keeps messages ordered by creation time ascending, ties broken
// by arrival order.
func (s *Session) insertMessage(message dto.MessageResponse) {
	messages := s.view.Messages
	at := sort.Search(len(messages), func(i int) bool {
		return messages[i].CreatedAt.After(message.CreatedAt)
	})

	messages = append(messages, dto.MessageResponse{})
	copy(messages[at+1:], messages[at:])
	messages[at] = message
	s.view.Messages = messages
}

// noteArrival applies the new-message badge rules and raises a notification
// for messages from other users.
func (s *Session) noteArrival(message dto.MessageResponse) {
	if message.SenderID == s.opts.UserID {
		// Self-sent messages always auto-scroll and never raise the badge.
		s.view.NewMessages = 0
		s.view.ScrollRequested = true
		return
	}

	if s.view.AtBottom {
		s.view.NewMessages = 0
		s.view.ScrollRequested = true
	} else {
		s.view.NewMessages++
	}

	if s.opts.Notifier != nil {
		s.opts.Notifier.MessageReceived(message.SenderName, message.Text, s.opts.RoomCode)
	}
}

func (s *Session) applyReactionChange(event realtime.ChangeEvent) {
	switch event.Type {
	case realtime.EventInsert:
		var row models.Reaction
		if err := event.DecodeNew(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid reaction insert payload")
			return
		}

		reaction := dto.NewReactionResponse(row)
		i := s.view.messageIndex(row.MessageID)
		if i < 0 {
			// Parent insert not seen yet; park the reaction until it shows up.
			if !containsReaction(s.orphanReactions[row.MessageID], reaction) {
				s.orphanReactions[row.MessageID] = append(s.orphanReactions[row.MessageID], reaction)
			}
			return
		}

		if containsReaction(s.view.Messages[i].Reactions, reaction) {
			return
		}
		s.view.Messages[i].Reactions = append(s.view.Messages[i].Reactions, reaction)

	case realtime.EventDelete:
		var row models.Reaction
		if err := event.DecodeOld(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid reaction delete payload")
			return
		}

		s.orphanReactions[row.MessageID] = removeReaction(s.orphanReactions[row.MessageID], row.ID)
		if len(s.orphanReactions[row.MessageID]) == 0 {
			delete(s.orphanReactions, row.MessageID)
		}

		if i := s.view.messageIndex(row.MessageID); i >= 0 {
			s.view.Messages[i].Reactions = removeReaction(s.view.Messages[i].Reactions, row.ID)
		}
	}
}

// containsReaction guards both against duplicate delivery (same id) and the
// one-per-(user,kind) invariant.
func containsReaction(reactions []dto.ReactionResponse, candidate dto.ReactionResponse) bool {
	for _, existing := range reactions {
		if existing.ID == candidate.ID {
			return true
		}
		if existing.UserID == candidate.UserID && existing.Kind == candidate.Kind {
			return true
		}
	}
	return false
}

func removeReaction(reactions []dto.ReactionResponse, id string) []dto.ReactionResponse {
	for i := range reactions {
		if reactions[i].ID == id {
			return append(reactions[:i], reactions[i+1:]...)
		}
	}
	return reactions
}

func (s *Session) applyParticipantChange(event realtime.ChangeEvent) {
	switch event.Type {
	case realtime.EventInsert:
		var row models.Participant
		if err := event.DecodeNew(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid participant insert payload")
			return
		}
		if s.view.participantIndex(row.ID) < 0 {
			s.view.Participants = append(s.view.Participants, dto.NewParticipantResponse(row))
		}

	case realtime.EventUpdate:
		var row models.Participant
		if err := event.DecodeNew(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid participant update payload")
			return
		}
		if i := s.view.participantIndex(row.ID); i >= 0 {
			s.view.Participants[i].UserName = row.UserName
			s.view.Participants[i].IsOnline = row.IsOnline
			s.view.Participants[i].LastSeen = row.LastSeen
		}

	case realtime.EventDelete:
		var row models.Participant
		if err := event.DecodeOld(&row); err != nil {
			s.log.Warn().Err(err).Msg("invalid participant delete payload")
			return
		}
		if i := s.view.participantIndex(row.ID); i >= 0 {
			s.view.Participants = append(s.view.Participants[:i], s.view.Participants[i+1:]...)
		}
	}

	s.view.recomputeOnlineCount()
}
