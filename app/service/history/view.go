package history

import (
	"fanreply/app/domain"
	"iter"
	"slices"
	"strings"
)

const (
	DefaultContextTurns = 20

	operatorLabel = "You"
	contextHeader = "Conversation history:"
)

// View is a time ordered, read-only view over one subscriber conversation.
type View struct {
	operatorID string
	messages   []domain.Message
}

// NewView copies messages and stable sorts the copy by SentAt, so messages
// sharing a timestamp keep their fetch order.
func NewView(messages []domain.Message, operatorID string) *View {
	ordered := slices.Clone(messages)
	slices.SortStableFunc(ordered, func(a, b domain.Message) int {
		return strings.Compare(a.SentAt, b.SentAt)
	})

	return &View{
		operatorID: operatorID,
		messages:   ordered,
	}
}

func (v *View) OperatorID() string {
	return v.operatorID
}

func (v *View) Len() int {
	return len(v.messages)
}

// Ordered yields messages ascending by SentAt.
func (v *View) Ordered() iter.Seq[domain.Message] {
	return func(yield func(domain.Message) bool) {
		for _, msg := range v.messages {
			if !yield(msg) {
				return
			}
		}
	}
}

// Messages returns an ordered copy.
func (v *View) Messages() []domain.Message {
	return slices.Clone(v.messages)
}

func (v *View) IsOperator(msg domain.Message) bool {
	return msg.SenderID == v.operatorID
}

func (v *View) LastSenderIsOperator() bool {
	if len(v.messages) == 0 {
		return false
	}

	return v.IsOperator(v.messages[len(v.messages)-1])
}

// MaxTimestamp is the latest SentAt of the whole view, operator messages included.
func (v *View) MaxTimestamp() string {
	var result string
	for _, msg := range v.messages {
		if msg.SentAt > result {
			result = msg.SentAt
		}
	}

	return result
}

// RenderContext renders the last maxTurns turns oldest first, one line per
// non-empty message. It returns "" when there is nothing to render.
func (v *View) RenderContext(handle string, maxTurns int) string {
	if maxTurns < 1 {
		maxTurns = DefaultContextTurns
	}

	turns := v.turns()
	if len(turns) > maxTurns {
		turns = turns[len(turns)-maxTurns:]
	}

	var builder strings.Builder
	for _, turn := range turns {
		label := handle
		if turn.operator {
			label = operatorLabel
		}

		for _, msg := range turn.messages {
			text := strings.TrimSpace(msg.Text)
			if text == "" {
				continue
			}

			builder.WriteString(label)
			builder.WriteString(": ")
			builder.WriteString(text)
			builder.WriteString("\n")
		}
	}

	if builder.Len() == 0 {
		return ""
	}

	return contextHeader + "\n" + strings.TrimRight(builder.String(), "\n")
}

type turn struct {
	operator bool
	messages []domain.Message
}

// turns groups consecutive messages of the same side.
func (v *View) turns() []turn {
	var result []turn

	for _, msg := range v.messages {
		operator := v.IsOperator(msg)
		if len(result) > 0 && result[len(result)-1].operator == operator {
			last := &result[len(result)-1]
			last.messages = append(last.messages, msg)
			continue
		}

		result = append(result, turn{
			operator: operator,
			messages: []domain.Message{msg},
		})
	}

	return result
}
