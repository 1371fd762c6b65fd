package fleet

import (
	"context"
	"fanreply/app/client/fanvue"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fanreply/app/service/account"
	"fanreply/app/service/dispatcher"
	"fanreply/app/service/generator"
	"fanreply/app/service/metrics"
	"fanreply/app/service/monitor"
	"fanreply/app/service/state"
	"fanreply/app/util/mylog"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/do"
)

type AccountSource interface {
	ListActiveAccounts(ctx context.Context) ([]domain.Account, error)
	Close()
}

type Runner interface {
	AccountID() string
	State() monitor.State
	ConsecutiveFailures() int
	Run(ctx context.Context) error
}

type Factory func(account domain.Account) Runner

type Options struct {
	ReconcileInterval time.Duration
	DrainTimeout      time.Duration
	RestartStopped    bool
}

type MonitorStatus struct {
	AccountID           string `json:"account_id"`
	State               string `json:"state"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

type handle struct {
	runner Runner
	cancel context.CancelFunc
	done   chan struct{}
}

// Service keeps exactly one monitor running per active account.
type Service struct {
	accounts AccountSource
	factory  Factory
	metrics  *metrics.Metrics
	opts     Options

	mu      sync.Mutex
	running map[string]*handle
	active  atomic.Int32
	wg      sync.WaitGroup
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)
	accountSvc := do.MustInvoke[*account.Service](di)
	metricsSvc := do.MustInvoke[*metrics.Metrics](di)

	deps := monitor.Deps{
		Accounts:   accountSvc,
		Transport:  do.MustInvoke[*fanvue.Client](di),
		Generator:  do.MustInvoke[*generator.Service](di),
		Dispatcher: do.MustInvoke[*dispatcher.Service](di),
		Store:      do.MustInvoke[state.Store](di),
		Metrics:    metricsSvc,
	}
	monitorOpts := monitor.OptionsFromConfig(cfg)

	factory := func(acc domain.Account) Runner {
		return monitor.New(acc, deps, monitorOpts)
	}

	return NewService(accountSvc, factory, Options{
		ReconcileInterval: cfg.Fleet.ReconcileInterval,
		DrainTimeout:      cfg.Fleet.DrainTimeout,
		RestartStopped:    cfg.Fleet.RestartStopped == nil || *cfg.Fleet.RestartStopped,
	}, metricsSvc), nil
}

func NewService(accounts AccountSource, factory Factory, opts Options, m *metrics.Metrics) *Service {
	return &Service{
		accounts: accounts,
		factory:  factory,
		metrics:  m,
		opts:     opts,
		running:  make(map[string]*handle),
	}
}

// Run returns an error only when the initial account listing fails. After
// ctx is cancelled it drains the monitors and closes the account source.
func (s *Service) Run(ctx context.Context) error {
	accounts, err := s.accounts.ListActiveAccounts(ctx)
	if err != nil {
		s.accounts.Close()
		return fmt.Errorf("initial account listing: %w", err)
	}

	slog.Info("Starting monitors", "accounts", len(accounts), mylog.TelegramKey, true)
	s.reconcile(ctx, accounts)

	ticker := time.NewTicker(s.opts.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.drain()
			return nil
		case <-ticker.C:
		}

		accounts, err = s.accounts.ListActiveAccounts(ctx)
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("Error reconciling accounts", "error", err)
			}
			continue
		}

		s.reconcile(ctx, accounts)
	}
}

func (s *Service) reconcile(ctx context.Context, accounts []domain.Account) {
	ids := pie.Map(accounts, func(acc domain.Account) string {
		return acc.ID
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	added, removed := pie.Diff(pie.Keys(s.running), ids)

	for _, id := range removed {
		s.running[id].cancel()
		delete(s.running, id)

		slog.Info("Account no longer active, monitor stopped", "account_id", id, mylog.TelegramKey, true)
	}

	for _, acc := range accounts {
		if !slices.Contains(added, acc.ID) {
			continue
		}
		if _, ok := s.running[acc.ID]; ok {
			continue
		}

		s.startLocked(ctx, acc)
	}

	if len(added) > 0 || len(removed) > 0 {
		slog.Info("Accounts reconciled",
			"added", len(added),
			"removed", len(removed),
			"running", len(s.running),
		)
	}
}

func (s *Service) startLocked(ctx context.Context, acc domain.Account) {
	monitorCtx, cancel := context.WithCancel(ctx)

	h := &handle{
		runner: s.factory(acc),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.running[acc.ID] = h

	s.metrics.SetRunningMonitors(int(s.active.Add(1)))
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer close(h.done)
		defer cancel()

		err := h.runner.Run(monitorCtx)
		s.onExit(acc.ID, h, err)
	}()
}

func (s *Service) onExit(accountID string, h *handle, err error) {
	s.metrics.SetRunningMonitors(int(s.active.Add(-1)))

	if err == nil {
		return
	}

	slog.Warn("Monitor exited", "account_id", accountID, "error", err)

	if !s.opts.RestartStopped {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running[accountID] == h {
		delete(s.running, accountID)
	}
}

func (s *Service) drain() {
	s.mu.Lock()
	handles := make(map[string]*handle, len(s.running))
	for id, h := range s.running {
		handles[id] = h
		h.cancel()
	}
	s.mu.Unlock()

	slog.Info("Waiting for monitors to finish...", "count", len(handles))

	finished := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		slog.Info("All monitors finished")
	case <-time.After(s.opts.DrainTimeout):
		for id, h := range handles {
			select {
			case <-h.done:
			default:
				slog.Warn("Monitor did not finish in time", "account_id", id)
			}
		}
	}

	s.accounts.Close()
}

// Running lists the tracked monitors ordered by account id.
func (s *Service) Running() []MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]MonitorStatus, 0, len(s.running))
	for id, h := range s.running {
		result = append(result, MonitorStatus{
			AccountID:           id,
			State:               h.runner.State().String(),
			ConsecutiveFailures: h.runner.ConsecutiveFailures(),
		})
	}

	slices.SortFunc(result, func(a, b MonitorStatus) int {
		return strings.Compare(a.AccountID, b.AccountID)
	})

	return result
}
