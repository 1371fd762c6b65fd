package dispatcher

import (
	"context"
	"errors"
	"fanreply/app/client/fanvue"
	"fanreply/app/config"
	"fanreply/app/domain"
	"fanreply/app/util/ratelimit"
	"fmt"
	"time"

	"github.com/samber/do"
)

type Sender interface {
	SendMessage(ctx context.Context, account domain.Account, subscriberID, text string) error
}

type Service struct {
	sender   Sender
	attempts int
	cooldown time.Duration
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(do.MustInvoke[*fanvue.Client](di), cfg.Monitor.SendAttempts, cfg.Monitor.RateLimitCooldown), nil
}

func NewService(sender Sender, attempts int, cooldown time.Duration) *Service {
	return &Service{
		sender:   sender,
		attempts: max(attempts, 1),
		cooldown: cooldown,
	}
}

// Send delivers text to the subscriber, retrying only rate limited attempts.
// Running out of attempts yields domain.ErrDispatchExhausted; any other
// failure is returned as is on the first occurrence.
func (s *Service) Send(ctx context.Context, account domain.Account, subscriberID, text string) error {
	err := ratelimit.Do(ctx, s.attempts, s.cooldown, "send message", func(ctx context.Context) error {
		return s.sender.SendMessage(ctx, account, subscriberID, text)
	})
	if errors.Is(err, ratelimit.ErrExhausted) {
		return fmt.Errorf("send to %s: %w: %w", subscriberID, domain.ErrDispatchExhausted, err)
	}

	return err
}
