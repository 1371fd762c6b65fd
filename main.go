package main

import (
	"context"
	"fanreply/app/client/fal"
	"fanreply/app/client/fanvue"
	"fanreply/app/client/openai"
	"fanreply/app/config"
	"fanreply/app/service/account"
	"fanreply/app/service/dispatcher"
	"fanreply/app/service/fleet"
	"fanreply/app/service/generator"
	"fanreply/app/service/metrics"
	"fanreply/app/service/state"
	"fanreply/app/service/status"
	"fanreply/app/util/mylog"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2/log"
	"github.com/samber/do"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	di := do.New()
	defer di.Shutdown()
	defer log.Info("Waiting for services to finish...")

	mylog.Preinit()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	do.ProvideValue(di, appCtx)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	do.ProvideValue(di, cfg)

	if err = mylog.Init(cfg); err != nil {
		log.Fatalf("logging init failed: %v", err)
	}

	do.Provide(di, metrics.New)
	do.Provide(di, account.New)
	do.Provide(di, state.New)
	do.Provide(di, fanvue.NewClient)
	do.Provide(di, openai.NewClient)
	do.Provide(di, fal.NewClient)
	do.Provide(di, generator.New)
	do.Provide(di, dispatcher.New)
	do.Provide(di, fleet.New)
	do.Provide(di, status.New)

	fleetSvc, err := do.Invoke[*fleet.Service](di)
	if err != nil {
		return err
	}
	statusSvc := do.MustInvoke[*status.Service](di)

	slog.Info("Service started")

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Info("Shutting down...")

		cancel()
	}()

	group, groupCtx := errgroup.WithContext(appCtx)
	group.Go(func() error {
		return fleetSvc.Run(groupCtx)
	})
	group.Go(func() error {
		return statusSvc.Run(groupCtx)
	})

	return group.Wait()
}
