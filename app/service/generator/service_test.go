package generator

import (
	"context"
	"fanreply/app/config"
	"fanreply/app/domain"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	result string
	err    error

	calls        int
	systemPrompt string
	userPrompt   string
	model        string
}

func (f *fakeBackend) Complete(_ context.Context, systemPrompt, userPrompt, model string) (string, error) {
	f.calls++
	f.systemPrompt = systemPrompt
	f.userPrompt = userPrompt
	f.model = model
	return f.result, f.err
}

var testGeneration = config.Generation{
	DefaultModel:      "google/gemini-2.0-flash-001",
	ChatModelSentinel: "stheno-nsfw",
}

func newTestService() (*Service, *fakeBackend, *fakeBackend) {
	chat := &fakeBackend{result: "chat reply"}
	queue := &fakeBackend{result: " queue reply "}

	return NewService(testGeneration, map[BackendKind]Backend{
		BackendChat:  chat,
		BackendQueue: queue,
	}), chat, queue
}

func TestSelectBackend(t *testing.T) {
	assert.Equal(t, BackendChat, SelectBackend("stheno-nsfw", "stheno-nsfw"))
	assert.Equal(t, BackendQueue, SelectBackend("google/gemini-2.0-flash-001", "stheno-nsfw"))
	assert.Equal(t, BackendQueue, SelectBackend("Stheno-NSFW", "stheno-nsfw"))
}

func TestGenerateDefaultsModelAndPrompt(t *testing.T) {
	svc, chat, queue := newTestService()

	result, err := svc.Generate(context.Background(), Request{Message: "hi", Handle: "bob"})
	require.NoError(t, err)

	assert.Equal(t, "queue reply", result)
	assert.Zero(t, chat.calls)
	assert.Equal(t, "google/gemini-2.0-flash-001", queue.model)
	assert.Equal(t, DefaultSystemPrompt(), queue.systemPrompt)
	assert.Equal(t, "This is the start of your conversation with bob.\n\nbob just sent: \"hi\"\n\nPlease respond in a friendly, engaging way:", queue.userPrompt)
	assert.Equal(t, BackendQueue, svc.Backend(""))
}

func TestGenerateChatBackendWithContext(t *testing.T) {
	svc, chat, queue := newTestService()

	result, err := svc.Generate(context.Background(), Request{
		Message:      "how are you?",
		Handle:       "bob",
		Context:      "Conversation history:\nbob: hey\nYou: hi bob",
		SystemPrompt: "custom",
		Model:        "stheno-nsfw",
	})
	require.NoError(t, err)

	assert.Equal(t, "chat reply", result)
	assert.Zero(t, queue.calls)
	assert.Equal(t, "custom", chat.systemPrompt)
	assert.Equal(t, "stheno-nsfw", chat.model)
	assert.Equal(t, "Conversation history:\nbob: hey\nYou: hi bob\n\nbob's latest message: \"how are you?\"\n\nPlease respond naturally as if continuing this conversation:", chat.userPrompt)
}

func TestGenerateWrapsBackendErrors(t *testing.T) {
	svc, _, queue := newTestService()
	queue.err = domain.ErrGenerationTimeout

	_, err := svc.Generate(context.Background(), Request{Message: "hi", Handle: "bob"})
	require.ErrorIs(t, err, domain.ErrGeneration)
	require.ErrorIs(t, err, domain.ErrGenerationTimeout)
}

func TestGenerateRejectsEmptyText(t *testing.T) {
	svc, _, queue := newTestService()
	queue.result = "   "

	_, err := svc.Generate(context.Background(), Request{Message: "hi", Handle: "bob"})
	require.ErrorIs(t, err, domain.ErrGeneration)
}

func TestGenerateMissingBackend(t *testing.T) {
	svc := NewService(testGeneration, map[BackendKind]Backend{})

	_, err := svc.Generate(context.Background(), Request{Message: "hi", Handle: "bob", Model: "stheno-nsfw"})
	require.ErrorIs(t, err, domain.ErrGeneration)
}

func TestUserPromptLeavesPlaceholdersInValues(t *testing.T) {
	prompt := UserPrompt("bob", "say {handle}", "")
	assert.Contains(t, prompt, `bob just sent: "say {handle}"`)
}
