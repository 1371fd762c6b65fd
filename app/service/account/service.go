package account

import (
	"context"
	"errors"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/do"
	"github.com/samber/oops"
)

const selectColumns = `SELECT id, "apiKey", "systemPrompt", "expiresAt", "createdAt", "updatedAt", "userId", llm FROM "FanvueAccount"`

const listActiveQuery = selectColumns + `
	WHERE "expiresAt" > NOW()
	ORDER BY "createdAt"`

const getByIDQuery = selectColumns + `
	WHERE id = $1 AND "expiresAt" > NOW()`

type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// Service reads creator accounts from the shared Postgres database. It is
// safe for concurrent use by every monitor.
type Service struct {
	pool      rowQuerier
	closeOnce sync.Once
}

func New(di *do.Injector) (*Service, error) {
	ctx := do.MustInvoke[context.Context](di)
	cfg := do.MustInvoke[*config.Config](di)

	poolConfig, err := pgxpool.ParseConfig(cfg.DB.URL())
	if err != nil {
		return nil, oops.In("account").Wrapf(err, "failed to parse database url")
	}
	poolConfig.MaxConns = cfg.DB.MaxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, oops.In("account").With("host", cfg.DB.Host).Wrapf(err, "failed to create pool")
	}

	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.In("account").With("host", cfg.DB.Host).Wrapf(err, "failed to reach database")
	}

	return newService(pool), nil
}

func newService(pool rowQuerier) *Service {
	if pool == nil {
		panic("account: pool required")
	}
	return &Service{pool: pool}
}

// ListActiveAccounts returns every account that has not expired, oldest first.
func (s *Service) ListActiveAccounts(ctx context.Context) ([]domain.Account, error) {
	rows, err := s.pool.Query(ctx, listActiveQuery)
	if err != nil {
		return nil, fmt.Errorf("account: list active: %w", err)
	}
	defer rows.Close()

	var result []domain.Account
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("account: scan: %w", err)
		}
		result = append(result, acc)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("account: list active: %w", err)
	}

	return result, nil
}

// GetAccountByID returns nil when the account does not exist or has expired.
func (s *Service) GetAccountByID(ctx context.Context, id string) (*domain.Account, error) {
	acc, err := scanAccount(s.pool.QueryRow(ctx, getByIDQuery, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("account: get %s: %w", id, err)
	}

	return &acc, nil
}

func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.pool.Close()
		slog.Info("Account database pool closed")
	})
}

func (s *Service) Shutdown() error {
	s.Close()
	return nil
}

func scanAccount(row pgx.Row) (domain.Account, error) {
	var (
		acc          domain.Account
		systemPrompt *string
		userID       *string
		model        *string
	)

	err := row.Scan(
		&acc.ID,
		&acc.APIKey,
		&systemPrompt,
		&acc.ExpiresAt,
		&acc.CreatedAt,
		&acc.UpdatedAt,
		&userID,
		&model,
	)
	if err != nil {
		return domain.Account{}, err
	}

	acc.SystemPrompt = deref(systemPrompt)
	acc.UserID = deref(userID)
	acc.Model = deref(model)

	return acc, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
