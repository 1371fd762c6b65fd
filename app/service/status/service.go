package status

import (
	"context"
	"errors"
	"fanreply/app/config"
	"fanreply/app/service/fleet"
	"fanreply/app/service/metrics"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/do"
)

const shutdownTimeout = 5 * time.Second

type Fleet interface {
	Running() []fleet.MonitorStatus
}

type Service struct {
	app    *fiber.App
	listen string
}

func New(di *do.Injector) (*Service, error) {
	cfg := do.MustInvoke[*config.Config](di)

	return NewService(
		cfg.Status.Listen,
		do.MustInvoke[*fleet.Service](di),
		do.MustInvoke[*metrics.Metrics](di).Gatherer(),
	), nil
}

func NewService(listen string, fleetSvc Fleet, gatherer prometheus.Gatherer) *Service {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		AppName:               "fanreply",
	})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/monitors", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"monitors": fleetSvc.Running()})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return &Service{
		app:    app,
		listen: listen,
	}
}

func (s *Service) App() *fiber.App {
	return s.app
}

// Run serves until ctx is cancelled. An empty listen address disables the
// server. A listen failure is logged and leaves the rest of the process running.
func (s *Service) Run(ctx context.Context) error {
	if s.listen == "" {
		slog.Info("Status server disabled")
		return nil
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status server listening", "addr", s.listen)
		errCh <- s.app.Listen(s.listen)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			slog.Error("Status server stopped", "addr", s.listen, "error", err)
		}
		return nil
	case <-ctx.Done():
	}

	if err := s.app.ShutdownWithTimeout(shutdownTimeout); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	return nil
}
