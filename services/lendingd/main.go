package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"rwalend/config"
	"rwalend/core/events"
	"rwalend/core/state"
	"rwalend/native/lending"
	"rwalend/observability"
	"rwalend/observability/logging"
	telemetry "rwalend/observability/otel"
	"rwalend/services/lendingd/auth"
	daemonconfig "rwalend/services/lendingd/config"
	"rwalend/services/lendingd/journal"
	"rwalend/services/lendingd/keeper"
	"rwalend/services/lendingd/server"
	"rwalend/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/lendingd/config.yaml", "path to lendingd config")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDINGD_ENV"))
	logging.Setup("lendingd", env)

	cfg, err := daemonconfig.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := logging.SetupWithOptions("lendingd", env, logging.Options{
		Level:      logging.ParseLevel(cfg.Logging.Level),
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.ConfigFromEnv("lendingd", env))
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	if err := run(cfg, env, logger); err != nil {
		log.Fatalf("lendingd: %v", err)
	}
}

func run(cfg daemonconfig.Config, env string, logger *slog.Logger) error {
	protocol, err := config.Load(cfg.ParamsFile)
	if err != nil {
		return fmt.Errorf("load protocol parameters: %w", err)
	}
	reserve, err := protocol.Reserve()
	if err != nil {
		return fmt.Errorf("protocol parameters: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	store := state.NewLendingStore(db, cfg.Namespace)
	custody := state.NewCustodyRegistry(db)
	oracle := lending.NewStaticOracle()

	j, err := journal.Open(cfg.JournalPath, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	engine := lending.NewEngine(reserve.Pool, reserve.Params, reserve.Rates)
	engine.SetState(store)
	engine.SetOracle(oracle)
	engine.SetCustody(custody)
	engine.SetPauses(protocol.Pauses)
	engine.SetActionPauses(reserve.Pauses)
	engine.SetEmitter(events.Fanout{observability.NewEventMetrics(), j})

	// Accrue once so gauges reflect the persisted reserve before traffic.
	if err := engine.RefreshReserveState(); err != nil {
		return fmt.Errorf("refresh reserve: %w", err)
	}
	if util, err := engine.Utilization(); err == nil {
		observability.Lending().SetUtilization(util.Dec())
	}

	verifier, err := auth.NewVerifier(auth.Config{
		HMACSecret: cfg.Auth.HMACSecret,
		Issuer:     cfg.Auth.Issuer,
		Audience:   cfg.Auth.Audience,
		RoleClaim:  cfg.Auth.RoleClaim,
		ClockSkew:  cfg.Auth.ClockSkew,
	})
	if err != nil {
		return fmt.Errorf("configure auth: %w", err)
	}
	srv, err := server.New(server.Config{
		Pool:     engine,
		Prices:   oracle,
		Custody:  custody,
		Events:   j,
		Verifier: verifier,
		RateLimit: server.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return fmt.Errorf("plaintext lendingd mode is restricted to loopback listeners or dev environment")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Keeper.Enabled {
		k, err := keeper.New(store, engine, cfg.Keeper.Interval, logger)
		if err != nil {
			return err
		}
		go func() {
			if err := k.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("keeper stopped", "error", err)
			}
		}()
	}

	httpServer := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("lendingd listening",
			"addr", cfg.ListenAddress,
			"pool", reserve.Pool.Hex(),
			"tls", cfg.TLS.Enabled())
		if cfg.TLS.Enabled() {
			serverErr <- httpServer.ServeTLS(listener, cfg.TLS.CertPath, cfg.TLS.KeyPath)
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		return nil
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	}
}
