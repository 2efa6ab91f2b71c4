package main

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/bbu-fleet/bbu-server/internal/api"
	"github.com/bbu-fleet/bbu-server/internal/campaign"
	"github.com/bbu-fleet/bbu-server/internal/clock"
	"github.com/bbu-fleet/bbu-server/internal/config"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/eventbus"
	"github.com/bbu-fleet/bbu-server/internal/ingest"
	"github.com/bbu-fleet/bbu-server/internal/metrics"
	"github.com/bbu-fleet/bbu-server/internal/registry"
	"github.com/bbu-fleet/bbu-server/internal/server"
	"github.com/bbu-fleet/bbu-server/internal/storage"
)

func main() {
	// Command line flags
	configFile := pflag.StringP("config", "c", "", "Configuration file path (e.g. config/bbu-server.yml)")
	logLevel := pflag.String("log-level", "", "Override log level (debug|info|warn|error)")
	pflag.Parse()

	// 配置加载前先用控制台输出
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}

	closeLog := setupLogging(cfg.Log)
	defer closeLog()

	cfg.PrintConfigSummary()

	if err := run(cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("BBU server exited with error")
		closeLog()
		os.Exit(1)
	}
	log.Info().Msg("BBU server stopped")
}

// setupLogging 控制台与可选的滚动日志文件
func setupLogging(cfg config.LogConfig) func() {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stderr
	if cfg.Format == "console" {
		console = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	if cfg.File == "" {
		log.Logger = zerolog.New(console).With().Timestamp().Logger()
		return func() {}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(console, file)).With().Timestamp().Logger()
	return func() { _ = file.Close() }
}

func openStore(cfg config.DatabaseConfig) (storage.Store, error) {
	if cfg.Driver == "memory" {
		log.Warn().Msg("使用内存存储，重启后数据丢失")
		return storage.NewMemoryStore(), nil
	}

	store, err := storage.NewPostgresStore(cfg.DSN, storage.PoolOptions{
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	log.Info().Msg("Connected to database")
	return store, nil
}

func connectNATS(cfg config.NATSConfig) *nats.Conn {
	if !cfg.Enabled {
		log.Info().Msg("NATS not configured, running in standalone mode")
		return nil
	}

	log.Info().Str("url", cfg.URL).Msg("Connecting to NATS...")
	nc, err := nats.Connect(cfg.URL,
		nats.Name("bbu-server"),
		nats.UserInfo(cfg.Username, cfg.Password),
		nats.ReconnectWait(cfg.ReconnectInterval),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("Disconnected from NATS")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Msg("Reconnected to NATS")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			ev := log.Error().Err(err)
			if sub != nil {
				ev = ev.Str("subject", sub.Subject)
			}
			ev.Msg("NATS error")
		}),
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to NATS, continuing without NATS support")
		return nil
	}
	log.Info().Msg("Connected to NATS")
	return nc
}

func run(cfg *config.Config) error {
	store, err := openStore(cfg.Database)
	if err != nil {
		return err
	}
	defer store.Close()

	clk := clock.Real()
	m := metrics.New()

	bus := eventbus.New(eventbus.WithMetrics(m))
	defer bus.Close()

	nc := connectNATS(cfg.NATS)
	if nc != nil {
		defer nc.Close()
		bridge := eventbus.NewNATSBridge(bus, nc, cfg.NATS.SubjectPrefix)
		bridge.Start()
		defer bridge.Stop()
	}

	// 收发共用一个 socket，设备回包到我们的源端口
	conn, err := net.ListenPacket("udp", cfg.UDP.Bind)
	if err != nil {
		return err
	}
	defer conn.Close()

	disp := dispatcher.New(
		dispatcher.NewUDPTransport(conn, cfg.UDP.DevicePort),
		clk,
		dispatcher.WithPolicy(dispatcher.Policy{Repeats: cfg.Dispatch.Repeats, Interval: cfg.Dispatch.RepeatInterval}),
		dispatcher.WithMetrics(m),
	)
	defer disp.Close()

	configs := dispatcher.NewFileConfigSource(cfg.XML.Dir)
	reg := registry.New(store, bus, disp, clk, registry.WithMetrics(m))

	bundler := campaign.NewBundler(disp, configs, clk, cfg.Dispatch.StepInterval, cfg.Campaign.UlPcPara)
	orch := campaign.NewOrchestrator(store, disp, bundler, reg, bus, clk, campaign.Timings{
		Phase1:      cfg.Campaign.Phase1,
		Phase2:      cfg.Campaign.Phase2,
		Phase3:      cfg.Campaign.Phase3,
		CycleClosed: cfg.Campaign.CycleClosed,
		CycleOpen:   cfg.Campaign.CycleOpen,
		Poll:        cfg.Campaign.PollInterval,
		Recovery:    campaign.RecoveryMode(cfg.Campaign.CycleRecovery),
	}, campaign.WithOrchestratorMetrics(m))
	defer orch.Shutdown()

	svc := campaign.NewService(store, orch, bundler, clk)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := svc.Recover(ctx); err != nil {
		log.Error().Err(err).Msg("任务恢复失败")
	}

	ingestServer := ingest.New(conn, reg, store, bus, configs, clk,
		ingest.WithMetrics(m),
		ingest.WithReadBuffer(cfg.UDP.ReadBuffer),
	)
	apiServer := api.NewRESTServer(svc, reg, bus, clk,
		api.WithMetrics(m),
		api.WithVersion(cfg.Server.Version),
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return reg.RunWatchdog(gctx, registry.WatchdogConfig{
			Interval:        cfg.Watchdog.Interval,
			Timeout:         cfg.Watchdog.Timeout,
			ReannounceEvery: cfg.Watchdog.ReannounceEvery,
		})
	})

	g.Go(func() error {
		return ingestServer.Serve(gctx)
	})

	g.Go(func() error {
		err := apiServer.ListenAndServe(cfg.API.Addr())
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Failed to shutdown API server gracefully")
		}
		return nil
	})

	if nc != nil {
		subscriber := server.NewNATSSubscriber(nc, svc, cfg.NATS.SubjectPrefix)
		g.Go(func() error {
			return subscriber.Start(gctx)
		})
	}

	log.Info().
		Str("udp", conn.LocalAddr().String()).
		Str("api", cfg.API.Addr()).
		Msg("BBU server started")

	return g.Wait()
}
