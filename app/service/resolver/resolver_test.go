package resolver

import (
	"fanreply/app/domain"
	"fanreply/app/service/history"
	"fanreply/app/service/state"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	op  = "operator"
	sub = "subscriber"
)

func msg(id, sender, text, sentAt string) domain.Message {
	return domain.Message{ID: id, SenderID: sender, Text: text, SentAt: sentAt}
}

func resolve(messages []domain.Message, conv *state.Conversation) (*Target, *state.Conversation) {
	return Resolve(history.NewView(messages, op), conv)
}

func TestScenarioConversation(t *testing.T) {
	conv := state.NewConversation(state.DefaultMaxSeenIDs)

	first := []domain.Message{msg("1", sub, "hi", "10:00")}
	target, conv := resolve(first, conv)
	require.NotNil(t, target)
	assert.Equal(t, "1", target.Message.ID)
	assert.Equal(t, "10:00", conv.LastSeenTimestamp())
	assert.Equal(t, []string{"1"}, conv.SeenIDs())

	second := append(first, msg("2", op, "hello", "10:01"))
	target, conv = resolve(second, conv)
	assert.Nil(t, target, "operator holds the last word")

	third := append(second, msg("3", sub, "you there?", "10:02"))
	target, conv = resolve(third, conv)
	require.NotNil(t, target)
	assert.Equal(t, "3", target.Message.ID)
	assert.Equal(t, []string{"1", "3"}, conv.SeenIDs())
	assert.Equal(t, "10:02", conv.LastSeenTimestamp())
	assert.Len(t, target.Context, 3)
}

func TestOperatorLastAlwaysWins(t *testing.T) {
	conv := state.NewConversation(state.DefaultMaxSeenIDs)
	messages := []domain.Message{
		msg("1", sub, "one", "10:00"),
		msg("2", sub, "two", "10:01"),
		msg("3", op, "reply", "10:02"),
	}

	target, updated := resolve(messages, conv)
	assert.Nil(t, target)
	assert.Same(t, conv, updated)
}

func TestBurstAnswersOnlyLatest(t *testing.T) {
	messages := []domain.Message{
		msg("3", sub, "three", "10:03"),
		msg("1", sub, "one", "10:01"),
		msg("2", sub, "two", "10:02"),
	}

	target, conv := resolve(messages, state.NewConversation(10))
	require.NotNil(t, target)
	assert.Equal(t, "3", target.Message.ID)
	assert.Equal(t, []string{"3"}, conv.SeenIDs())

	target, _ = resolve(messages, conv)
	assert.Nil(t, target, "earlier burst messages are not answered later")
}

func TestEmptyViewLeavesStateUnchanged(t *testing.T) {
	conv := state.NewConversation(10)
	conv.AdvanceTo("09:00")

	target, updated := resolve(nil, conv)
	assert.Nil(t, target)
	assert.Same(t, conv, updated)
	assert.Equal(t, "09:00", updated.LastSeenTimestamp())
}

func TestSkipsEmptyAndSeenMessages(t *testing.T) {
	conv := state.NewConversation(10)
	conv.MarkSeen("2")

	messages := []domain.Message{
		msg("1", sub, "   ", "10:00"),
		msg("2", sub, "seen", "10:01"),
	}

	target, _ := resolve(messages, conv)
	assert.Nil(t, target)
}

func TestSkipsMessagesAtOrBeforeLastSeen(t *testing.T) {
	conv := state.NewConversation(10)
	conv.AdvanceTo("10:05")

	messages := []domain.Message{
		msg("1", sub, "old", "10:04"),
		msg("2", sub, "same", "10:05"),
	}

	target, _ := resolve(messages, conv)
	assert.Nil(t, target)

	target, updated := resolve(append(messages, msg("3", sub, "new", "10:06")), conv)
	require.NotNil(t, target)
	assert.Equal(t, "3", target.Message.ID)
	assert.Equal(t, "10:06", updated.LastSeenTimestamp())
}

func TestMissingTimestampWithEmptyState(t *testing.T) {
	target, updated := resolve([]domain.Message{msg("1", sub, "hi", "")}, state.NewConversation(10))
	require.NotNil(t, target)
	assert.Equal(t, "1", target.Message.ID)
	assert.Empty(t, updated.LastSeenTimestamp())

	target, _ = resolve([]domain.Message{msg("1", sub, "hi", "")}, updated)
	assert.Nil(t, target)
}

func TestResolveDoesNotMutateInput(t *testing.T) {
	conv := state.NewConversation(10)
	_, updated := resolve([]domain.Message{msg("1", sub, "hi", "10:00")}, conv)

	assert.Zero(t, conv.Len())
	assert.Empty(t, conv.LastSeenTimestamp())
	assert.Equal(t, 1, updated.Len())
}

func TestDuplicateMessagesAcrossFetches(t *testing.T) {
	messages := []domain.Message{
		msg("1", sub, "hi", "10:00"),
		msg("1", sub, "hi", "10:00"),
	}

	target, conv := resolve(messages, state.NewConversation(10))
	require.NotNil(t, target)
	assert.Equal(t, []string{"1"}, conv.SeenIDs())
}

func randomHistory(r *rand.Rand, n int) []domain.Message {
	messages := make([]domain.Message, 0, n)
	for i := 0; i < n; i++ {
		sender := sub
		if r.Intn(3) == 0 {
			sender = op
		}
		text := "text"
		if r.Intn(8) == 0 {
			text = ""
		}
		messages = append(messages, msg(
			fmt.Sprintf("m%d", r.Intn(n*2)),
			sender,
			text,
			fmt.Sprintf("2025-01-01T10:%02d:00Z", r.Intn(60)),
		))
	}
	return messages
}

func TestPropertiesOverRandomHistories(t *testing.T) {
	r := rand.New(rand.NewSource(42))

	for round := 0; round < 200; round++ {
		conv := state.NewConversation(5)
		var messages []domain.Message

		for step := 0; step < 10; step++ {
			messages = append(messages, randomHistory(r, 1+r.Intn(6))...)
			before := conv.LastSeenTimestamp()

			target, updated := resolve(messages, conv)
			assert.GreaterOrEqual(t, updated.LastSeenTimestamp(), before)
			assert.LessOrEqual(t, updated.Len(), 5)

			if history.NewView(messages, op).LastSenderIsOperator() {
				assert.Nil(t, target)
			}

			again, repeated := resolve(messages, updated)
			assert.Nil(t, again, "resolving unchanged history twice yields nothing")
			assert.True(t, updated.Equal(repeated))

			if target != nil {
				assert.True(t, updated.HasSeen(target.Message.ID))
			}
			conv = updated
		}
	}
}

func TestMissingTimestampsStayIdempotent(t *testing.T) {
	messages := []domain.Message{
		msg("a", sub, "first", ""),
		msg("b", sub, "second", ""),
	}

	target, conv := resolve(messages, state.NewConversation(10))
	require.NotNil(t, target)
	assert.Equal(t, "b", target.Message.ID)

	target, _ = resolve(messages, conv)
	assert.Nil(t, target)
}
