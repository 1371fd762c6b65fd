package state

import (
	"context"
	"fanreply/app/config"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/samber/do"
)

// Store persists conversation states scoped per account.
type Store interface {
	// Load returns nil, nil when nothing was stored for the subscriber.
	Load(ctx context.Context, accountID, subscriberID string) (*Conversation, error)
	Save(ctx context.Context, accountID, subscriberID string, conv *Conversation) error
}

var (
	_ Store = (*FileStore)(nil)
	_ Store = (*RedisStore)(nil)
)

// New builds the store selected by state.backend.
func New(di *do.Injector) (Store, error) {
	cfg := do.MustInvoke[*config.Config](di)

	switch cfg.State.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.State.Redis.Addr,
			Password: cfg.State.Redis.Password,
			DB:       cfg.State.Redis.DB,
		})

		slog.Info("Using redis state store", "addr", cfg.State.Redis.Addr)

		return NewRedisStore(client, cfg.State.Redis.Prefix, cfg.State.MaxSeenIDs), nil
	case "file", "":
		slog.Info("Using file state store", "dir", cfg.State.Dir)

		return NewFileStore(cfg.State.Dir, cfg.State.MaxSeenIDs), nil
	default:
		return nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}
