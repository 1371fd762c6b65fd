package generator

import (
	"context"
	"fanreply/app/client/fal"
	"fanreply/app/client/openai"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/do"
)

type BackendKind string

const (
	BackendChat  BackendKind = "chat"
	BackendQueue BackendKind = "queue"
)

type Backend interface {
	Complete(ctx context.Context, systemPrompt, userPrompt, model string) (string, error)
}

type Request struct {
	// Subscriber message being answered
	Message string
	// Subscriber handle
	Handle string
	// Rendered conversation history, empty on first contact
	Context string
	// Account system prompt, empty means the default one
	SystemPrompt string
	// Account model, empty means the configured default
	Model string
}

type Service struct {
	defaultModel      string
	chatModelSentinel string
	backends          map[BackendKind]Backend
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(cfg.Generation, map[BackendKind]Backend{
		BackendChat:  do.MustInvoke[*openai.Client](di),
		BackendQueue: do.MustInvoke[*fal.Client](di),
	}), nil
}

func NewService(cfg config.Generation, backends map[BackendKind]Backend) *Service {
	return &Service{
		defaultModel:      cfg.DefaultModel,
		chatModelSentinel: cfg.ChatModelSentinel,
		backends:          backends,
	}
}

// SelectBackend routes the chat model sentinel to the chat completion backend
// and everything else to the job queue.
func SelectBackend(model, chatModelSentinel string) BackendKind {
	if model == chatModelSentinel {
		return BackendChat
	}

	return BackendQueue
}

// Backend reports which backend a request with the given account model uses.
func (s *Service) Backend(model string) BackendKind {
	return SelectBackend(s.model(model), s.chatModelSentinel)
}

func (s *Service) Generate(ctx context.Context, req Request) (string, error) {
	model := s.model(req.Model)

	systemPrompt := req.SystemPrompt
	if strings.TrimSpace(systemPrompt) == "" {
		systemPrompt = DefaultSystemPrompt()
	}

	kind := SelectBackend(model, s.chatModelSentinel)
	backend, ok := s.backends[kind]
	if !ok {
		return "", fmt.Errorf("%w: no %s backend configured", domain.ErrGeneration, kind)
	}

	start := time.Now()
	result, err := backend.Complete(ctx, systemPrompt, UserPrompt(req.Handle, req.Message, req.Context), model)
	if err != nil {
		return "", fmt.Errorf("%w: %s backend, model %s: %w", domain.ErrGeneration, kind, model, err)
	}

	result = strings.TrimSpace(result)
	if result == "" {
		return "", fmt.Errorf("%w: %s backend returned empty text", domain.ErrGeneration, kind)
	}

	slog.Debug("Generated reply",
		"backend", kind,
		"model", model,
		"duration", time.Since(start),
	)

	return result, nil
}

func (s *Service) model(model string) string {
	if strings.TrimSpace(model) == "" {
		return s.defaultModel
	}

	return model
}
