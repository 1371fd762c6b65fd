// Package resolver decides which subscriber message of a conversation, if any,
// needs a reply.
//
// The rule: nothing is unanswered while the operator holds the last word.
// Otherwise the candidates are the subscriber's non-empty messages that were
// neither seen before nor older than the last seen timestamp, and only the latest
// candidate is answered; earlier messages of the same burst are context.
package resolver

import (
	"fanreply/app/domain"
	"fanreply/app/service/history"
	"fanreply/app/service/state"
	"strings"

	"github.com/elliotchance/pie/v2"
)

// Target is the message chosen for a reply plus the conversation it was
// resolved from.
type Target struct {
	Message domain.Message
	Context []domain.Message
}

// Resolve never mutates conv. When a target is returned the second value is an
// updated copy; otherwise it is conv itself.
func Resolve(view *history.View, conv *state.Conversation) (*Target, *state.Conversation) {
	if view.Len() == 0 || view.LastSenderIsOperator() {
		return nil, conv
	}

	candidates := Candidates(view, conv)
	if len(candidates) == 0 {
		return nil, conv
	}

	target := pie.Last(candidates)

	updated := conv.Clone()
	updated.MarkSeen(target.ID)
	updated.AdvanceTo(view.MaxTimestamp())

	return &Target{
		Message: target,
		Context: view.Messages(),
	}, updated
}

// Candidates lists unanswered subscriber messages in chronological order.
// A message without a sent-at timestamp qualifies only while the conversation
// has no seen ids and no last seen timestamp; after that it never counts as newer.
func Candidates(view *history.View, conv *state.Conversation) []domain.Message {
	lastSeen := conv.LastSeenTimestamp()
	// A fresh conversation has no lower bound at all, not even "".
	unbounded := lastSeen == "" && conv.Len() == 0

	var result []domain.Message
	for msg := range view.Ordered() {
		if view.IsOperator(msg) {
			continue
		}
		if strings.TrimSpace(msg.Text) == "" {
			continue
		}
		if conv.HasSeen(msg.ID) {
			continue
		}
		if !unbounded && msg.SentAt <= lastSeen {
			continue
		}

		result = append(result, msg)
	}

	return result
}
