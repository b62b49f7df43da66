package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HKUDS/secretary-go/pkg/briefing"
	"github.com/HKUDS/secretary-go/pkg/bus"
	"github.com/HKUDS/secretary-go/pkg/channels"
	"github.com/HKUDS/secretary-go/pkg/config"
	"github.com/HKUDS/secretary-go/pkg/cron"
	"github.com/HKUDS/secretary-go/pkg/extractor"
	"github.com/HKUDS/secretary-go/pkg/locale"
	"github.com/HKUDS/secretary-go/pkg/metrics"
	"github.com/HKUDS/secretary-go/pkg/providers"
	"github.com/HKUDS/secretary-go/pkg/router"
	"github.com/HKUDS/secretary-go/pkg/session"
	"github.com/HKUDS/secretary-go/pkg/store"
	"github.com/HKUDS/secretary-go/pkg/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "secretary",
		Short:         "Telegram personal secretary that schedules reminders from plain Vietnamese",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")
	root.AddCommand(newOnboardCmd(&configPath))
	return root
}

func serve(parent context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	logger, closeLog, err := utils.NewLogger(cfg.ResolvePath(cfg.Log.Dir), cfg.Log.Debug)
	if err != nil {
		return err
	}
	defer closeLog()

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	m := metrics.MustNew(reg)

	db, err := store.Open(cfg.ResolvePath(cfg.Store.Path), loc)
	if err != nil {
		return err
	}
	defer db.Close()

	sessions, err := session.NewManager(cfg.Workspace, cfg.Session.CacheSize)
	if err != nil {
		return err
	}

	provider, err := providers.NewProvider(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	catalog := locale.Default()
	oracle := extractor.New(provider, catalog, loc, extractor.Options{
		Timeout:     cfg.LLM.Timeout,
		Temperature: float32(cfg.LLM.Temperature),
		MaxTokens:   cfg.LLM.MaxTokens,
		MaxHistory:  cfg.Session.MaxHistory,
	}, logger, m)

	messageBus := bus.NewMessageBus(logger)
	telegram := channels.NewTelegramChannel(cfg.Telegram, messageBus, logger)
	if err := telegram.Connect(); err != nil {
		return err
	}
	messageBus.SubscribeOutbound(telegram.Name(), func(msg bus.OutboundMessage) {
		if err := telegram.Send(ctx, msg); err != nil {
			logger.Warn("failed to send reply", zap.Int64("chat_id", msg.ChatID), zap.Error(err))
		}
	})

	scheduler := cron.NewService(cfg.ResolvePath(cfg.Scheduler.StoreFile),
		cron.WithLocation(loc),
		cron.WithGrace(cfg.Scheduler.MisfireGrace),
		cron.WithLogger(logger),
		cron.WithMetrics(m),
	)
	scheduler.SetDispatcher(telegram.Deliver)
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	r := router.New(db, scheduler, oracle, sessions, catalog, router.Options{
		Location:   loc,
		MaxHistory: cfg.Session.MaxHistory,
		Logger:     logger,
		Metrics:    m,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return messageBus.DispatchOutbound(gctx) })
	g.Go(func() error { return r.Run(gctx, messageBus) })
	g.Go(func() error { return telegram.Run(gctx) })
	if cfg.Briefing.Enabled {
		b, err := briefing.New(db, telegram.Deliver, catalog, loc, cfg.Briefing.Time, logger, m)
		if err != nil {
			return err
		}
		g.Go(func() error { return b.Run(gctx) })
	}
	if cfg.Metrics.Listen != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.Metrics.Listen, reg, logger) })
	}

	logger.Info("secretary started",
		zap.String("workspace", cfg.Workspace),
		zap.String("provider", cfg.LLM.Provider),
		zap.String("timezone", loc.String()))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("secretary stopped")
	return nil
}
