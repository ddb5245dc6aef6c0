package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/blukai/nova/internal/admin"
	"github.com/blukai/nova/internal/codec"
	"github.com/blukai/nova/internal/config"
	"github.com/blukai/nova/internal/lobby"
	"github.com/blukai/nova/internal/metrics"
	"github.com/blukai/nova/internal/netserver"
	"github.com/blukai/nova/internal/schema"
	"github.com/blukai/nova/internal/service"
	"github.com/blukai/nova/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the server until SIGINT or SIGTERM",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

// loadTable prefers the schema database over the yaml file.
func loadTable(ctx context.Context, cfg *config.Config) (*codec.Table, error) {
	var (
		f   *schema.File
		err error
	)
	if cfg.SchemaDB != "" {
		db, err := schema.OpenDB(cfg.SchemaDB)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		if f, err = schema.LoadSQL(ctx, db); err != nil {
			return nil, err
		}
	} else if f, err = schema.Load(cfg.Schema); err != nil {
		return nil, err
	}
	return f.Table()
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not process config: %w", err)
	}

	level, _ := cfg.Level()
	logger := configureLogger(level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	table, err := loadTable(ctx, cfg)
	if err != nil {
		return fmt.Errorf("could not load schema: %w", err)
	}
	messages, err := lobby.ServerMessages(table)
	if err != nil {
		return fmt.Errorf("schema does not fit the lobby: %w", err)
	}

	lb := lobby.New(lobby.Options{
		Seed:        cfg.LobbySeed,
		IdleTimeout: cfg.LobbyIdleTimeout,
		Logger:      logger,
	})
	services := service.NewRegistry()
	if err := services.Register(lb); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := netserver.Options{
		Table:            table,
		Messages:         messages,
		Services:         services,
		DefaultService:   lobby.ID,
		Workers:          cfg.Workers,
		TasksPerGroup:    cfg.TasksPerGroup,
		Backlog:          cfg.WorkBacklog,
		InputBufferSize:  cfg.InputBufferSize,
		OutputBufferSize: cfg.OutputBufferSize,
		ReadChunkSize:    cfg.ReadChunkSize,
		IncomingQueue:    cfg.IncomingQueue,
		WriteTimeout:     cfg.WriteTimeout,
		Metrics:          metrics.New(reg),
		Logger:           logger,
	}
	seed, _ := cfg.Seed()
	if seed != nil {
		opts.Ciphers = netserver.SeededCiphers(seed)
	}

	reactor, err := netserver.NewReactor("tcp", cfg.ListenAddr, opts)
	if err != nil {
		return fmt.Errorf("could not construct reactor: %w", err)
	}
	reactor.RegisterDefaults()
	lb.Attach(reactor)

	var reporter *telemetry.Reporter
	if cfg.MQTTBroker != "" {
		pub, err := telemetry.DialMQTT(cfg.MQTTBroker, cfg.MQTTClientID, logger)
		if err != nil {
			return fmt.Errorf("could not set up telemetry: %w", err)
		}
		defer pub.Close()
		reporter = telemetry.NewReporter(pub, cfg.MQTTTopic, cfg.MQTTQueue, logger)
		reporter.Attach(reactor)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := reactor.Run(gctx); err != nil {
			return fmt.Errorf("reactor run failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return services.RunAll(gctx)
	})
	if reporter != nil {
		g.Go(func() error {
			return reporter.Run(gctx)
		})
	}
	if cfg.AdminAddr != "" {
		g.Go(func() error {
			return admin.New(reactor, reg, logger).Run(gctx, cfg.AdminAddr)
		})
	}

	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signalChan)

	g.Go(func() error {
		select {
		case sig := <-signalChan:
			logger.Info().Msgf("received %+v signal", sig)
			cancel()
		case <-gctx.Done():
		}
		return nil
	})

	return g.Wait()
}
