package monitor

import (
	"context"
	"errors"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fanreply/app/service/generator"
	"fanreply/app/service/history"
	"fanreply/app/service/metrics"
	"fanreply/app/service/resolver"
	"fanreply/app/service/state"
	"fanreply/app/util/clock"
	"fanreply/app/util/mylog"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const flushTimeout = 10 * time.Second

type AccountSource interface {
	GetAccountByID(ctx context.Context, id string) (*domain.Account, error)
}

type Transport interface {
	GetCurrentUser(ctx context.Context, account domain.Account) (domain.Operator, error)
	ListSubscribers(ctx context.Context, account domain.Account) ([]domain.Subscriber, error)
	ListMessages(ctx context.Context, account domain.Account, subscriberID string, limit int) ([]domain.Message, error)
}

type Generator interface {
	Generate(ctx context.Context, req generator.Request) (string, error)
	Backend(model string) generator.BackendKind
}

type Dispatcher interface {
	Send(ctx context.Context, account domain.Account, subscriberID, text string) error
}

type Deps struct {
	Accounts   AccountSource
	Transport  Transport
	Generator  Generator
	Dispatcher Dispatcher
	Store      state.Store
	Metrics    *metrics.Metrics
}

type Options struct {
	PollInterval           time.Duration
	ReplyDelay             time.Duration
	DetectLimit            int
	ContextLimit           int
	ContextTurns           int
	MaxConsecutiveFailures int
	MaxSeenIDs             int
	// {handle} is replaced with the subscriber handle
	FallbackReply string
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PollInterval:           cfg.Monitor.PollInterval,
		ReplyDelay:             *cfg.Monitor.ReplyDelay,
		DetectLimit:            cfg.Monitor.DetectLimit,
		ContextLimit:           cfg.Monitor.ContextLimit,
		ContextTurns:           cfg.Monitor.ContextTurns,
		MaxConsecutiveFailures: cfg.Monitor.MaxConsecutiveFailures,
		MaxSeenIDs:             cfg.State.MaxSeenIDs,
		FallbackReply:          cfg.Generation.FallbackReply,
	}
}

// Monitor polls one account. Everything except the state and failure
// counters is owned by the goroutine running Run.
type Monitor struct {
	accountID string
	account   domain.Account
	operator  *domain.Operator

	deps Deps
	opts Options

	conversations map[string]*state.Conversation

	state    atomic.Int32
	failures atomic.Int32
}

func New(account domain.Account, deps Deps, opts Options) *Monitor {
	return &Monitor{
		accountID:     account.ID,
		account:       account,
		deps:          deps,
		opts:          opts,
		conversations: make(map[string]*state.Conversation),
	}
}

func (m *Monitor) AccountID() string {
	return m.accountID
}

func (m *Monitor) State() State {
	return State(m.state.Load())
}

func (m *Monitor) ConsecutiveFailures() int {
	return int(m.failures.Load())
}

func (m *Monitor) setState(s State) {
	m.state.Store(int32(s))
}

// Run polls until ctx is cancelled, which returns nil, or until
// MaxConsecutiveFailures cycles in a row fail, which returns
// domain.ErrConsecutiveFailureLimit. Held conversation states are persisted
// before returning either way.
func (m *Monitor) Run(ctx context.Context) error {
	defer m.flush()
	defer m.setState(StateStopped)

	slog.Info("Monitor started", "account_id", m.accountID)

	for {
		if ctx.Err() != nil {
			slog.Info("Monitor cancelled", "account_id", m.accountID)
			return nil
		}

		m.setState(StatePolling)

		logger := slog.With("account_id", m.accountID, "cycle_id", uuid.NewString())
		start := time.Now()

		err := m.runCycle(ctx, logger)
		if ctx.Err() != nil {
			logger.Info("Monitor cancelled during cycle")
			return nil
		}

		m.deps.Metrics.ObserveCycle(err, time.Since(start))

		if err != nil {
			failures := m.failures.Add(1)
			logger.Warn("Cycle failed",
				"error", err,
				"consecutive_failures", failures,
				"max_consecutive_failures", m.opts.MaxConsecutiveFailures,
			)

			if int(failures) >= m.opts.MaxConsecutiveFailures {
				logger.Error("Monitor stopped after consecutive failures",
					"consecutive_failures", failures,
					"error", err,
				)
				return fmt.Errorf("account %s: %w: %w", m.accountID, domain.ErrConsecutiveFailureLimit, err)
			}
		} else {
			m.failures.Store(0)
			logger.Debug("Cycle finished", "duration", time.Since(start))
		}

		m.setState(StateSleeping)
		if err = clock.Sleep(ctx, m.opts.PollInterval); err != nil {
			slog.Info("Monitor cancelled", "account_id", m.accountID)
			return nil
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context, logger *slog.Logger) error {
	m.refreshAccount(ctx, logger)

	operator, err := m.resolveOperator(ctx)
	if err != nil {
		return fmt.Errorf("resolve operator: %w", err)
	}

	subscribers, err := m.deps.Transport.ListSubscribers(ctx, m.account)
	if err != nil {
		return fmt.Errorf("list subscribers: %w", err)
	}

	logger.Debug("Checking subscribers", "count", len(subscribers))

	touched := make(map[string]struct{})
	for _, sub := range subscribers {
		if ctx.Err() != nil {
			break
		}

		if m.processSubscriber(ctx, logger, operator, sub) {
			touched[sub.ID] = struct{}{}
		}
	}

	return m.persist(ctx, touched)
}

// refreshAccount picks up model and prompt changes. The cached snapshot is
// kept when the lookup fails.
func (m *Monitor) refreshAccount(ctx context.Context, logger *slog.Logger) {
	if m.deps.Accounts == nil {
		return
	}

	acc, err := m.deps.Accounts.GetAccountByID(ctx, m.accountID)
	if err != nil {
		logger.Warn("Failed to refresh account, using cached data", "error", err)
		return
	}
	if acc == nil {
		logger.Warn("Account is no longer active, using cached data")
		return
	}

	m.account = *acc
}

func (m *Monitor) resolveOperator(ctx context.Context) (domain.Operator, error) {
	if m.operator != nil {
		return *m.operator, nil
	}

	operator, err := m.deps.Transport.GetCurrentUser(ctx, m.account)
	if err != nil {
		return domain.Operator{}, err
	}

	slog.Info("Resolved operator", "account_id", m.accountID, "operator_id", operator.ID, "handle", operator.Handle)

	m.operator = &operator
	return operator, nil
}

// processSubscriber reports whether the subscriber's conversation state changed.
// Errors are logged and contained here.
func (m *Monitor) processSubscriber(
	ctx context.Context,
	logger *slog.Logger,
	operator domain.Operator,
	sub domain.Subscriber,
) bool {
	logger = logger.With("subscriber_id", sub.ID, "handle", sub.Handle)

	messages, err := m.deps.Transport.ListMessages(ctx, m.account, sub.ID, m.opts.DetectLimit)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("Failed to list messages", "error", err)
		}
		return false
	}

	view := history.NewView(messages, operator.ID)
	target, updated := resolver.Resolve(view, m.conversation(ctx, logger, sub.ID))
	if target == nil {
		return false
	}

	logger.Info("Found unanswered message", "message_id", target.Message.ID, "sent_at", target.Message.SentAt)

	text := m.reply(ctx, logger, sub, target, m.contextView(ctx, logger, sub, view))
	if ctx.Err() != nil {
		return false
	}

	err = m.deps.Dispatcher.Send(ctx, m.account, sub.ID, text)
	switch {
	case err == nil:
		m.deps.Metrics.ObserveReply(metrics.ReplySent)
		logger.Info("Reply sent",
			"message_id", target.Message.ID,
			"reply", text,
			mylog.TelegramKey, true,
		)
	case ctx.Err() != nil:
		return false
	case errors.Is(err, domain.ErrDispatchExhausted):
		m.deps.Metrics.ObserveReply(metrics.ReplyExhausted)
		logger.Warn("Reply not sent, will retry next cycle", "message_id", target.Message.ID, "error", err)
		return false
	default:
		m.deps.Metrics.ObserveReply(metrics.ReplyFailed)
		logger.Warn("Reply failed permanently, message marked as seen", "message_id", target.Message.ID, "error", err)
	}

	m.conversations[sub.ID] = updated

	_ = clock.Sleep(ctx, m.opts.ReplyDelay)

	return true
}

// contextView fetches the longer history used for the prompt, falling back to
// the detection window.
func (m *Monitor) contextView(
	ctx context.Context,
	logger *slog.Logger,
	sub domain.Subscriber,
	detection *history.View,
) *history.View {
	if m.opts.ContextLimit <= m.opts.DetectLimit {
		return detection
	}

	messages, err := m.deps.Transport.ListMessages(ctx, m.account, sub.ID, m.opts.ContextLimit)
	if err != nil {
		logger.Warn("Failed to fetch extended history, using detection window", "error", err)
		return detection
	}

	return history.NewView(messages, detection.OperatorID())
}

func (m *Monitor) reply(
	ctx context.Context,
	logger *slog.Logger,
	sub domain.Subscriber,
	target *resolver.Target,
	view *history.View,
) string {
	backend := string(m.deps.Generator.Backend(m.account.Model))

	text, err := m.deps.Generator.Generate(ctx, generator.Request{
		Message:      target.Message.Text,
		Handle:       sub.Handle,
		Context:      view.RenderContext(sub.Handle, m.opts.ContextTurns),
		SystemPrompt: m.account.SystemPrompt,
		Model:        m.account.Model,
	})
	if err == nil {
		m.deps.Metrics.ObserveGeneration(backend, metrics.GenerationOK)
		return text
	}

	if ctx.Err() == nil {
		logger.Warn("Generation failed, sending fallback reply", "error", err)
	}
	m.deps.Metrics.ObserveGeneration(backend, metrics.GenerationFallback)

	return strings.ReplaceAll(m.opts.FallbackReply, "{handle}", sub.Handle)
}

// conversation returns the held state, loading it on first use. A load
// failure yields an empty state.
func (m *Monitor) conversation(ctx context.Context, logger *slog.Logger, subscriberID string) *state.Conversation {
	if conv, ok := m.conversations[subscriberID]; ok {
		return conv
	}

	conv, err := m.deps.Store.Load(ctx, m.accountID, subscriberID)
	if err != nil {
		logger.Warn("Failed to load conversation state, starting empty", "error", err)
		conv = nil
	}
	if conv == nil {
		conv = state.NewConversation(m.opts.MaxSeenIDs)
	}

	m.conversations[subscriberID] = conv
	return conv
}

func (m *Monitor) persist(ctx context.Context, subscriberIDs map[string]struct{}) error {
	var errs []error
	for id := range subscriberIDs {
		if err := m.deps.Store.Save(ctx, m.accountID, id, m.conversations[id]); err != nil {
			errs = append(errs, fmt.Errorf("save state of %s: %w", id, err))
		}
	}

	return errors.Join(errs...)
}

// flush persists every held state with a context detached from the cancelled
// run context.
func (m *Monitor) flush() {
	if len(m.conversations) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	saved := 0
	for id, conv := range m.conversations {
		if err := m.deps.Store.Save(ctx, m.accountID, id, conv); err != nil {
			slog.Error("Failed to persist conversation state",
				"account_id", m.accountID,
				"subscriber_id", id,
				"error", err,
			)
			continue
		}
		saved++
	}

	slog.Info("Conversation states persisted", "account_id", m.accountID, "count", saved)
}
