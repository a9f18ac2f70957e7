package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"lnurl-gateway/config"
	"lnurl-gateway/internal/database"
	"lnurl-gateway/internal/httpapi"
	"lnurl-gateway/internal/lnnode"
	"lnurl-gateway/internal/requestflow"
	gwruntime "lnurl-gateway/internal/runtime"
	"lnurl-gateway/pkg/cache"
	"lnurl-gateway/pkg/logger"

	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

var Cfg config.GatewayConfig

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	if err := logger.Init(logger.GetEnv()); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	_, filename, _, _ := runtime.Caller(0)
	root := filepath.Dir(filepath.Dir(filepath.Dir(filename)))
	configPath := config.Path(root).Join("config.toml")

	if err := config.Load(configPath, &Cfg); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger.Info("Starting lnurl gateway...", zap.String("domain", Cfg.Public.Domain))

	var redisCfg cache.Config
	if err := copier.Copy(&redisCfg, &Cfg.Redis); err != nil {
		return fmt.Errorf("failed to copy cache config: %w", err)
	}
	if err := cache.Init(redisCfg); err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	defer cache.Close()

	var dbCfg database.Config
	if err := copier.Copy(&dbCfg, &Cfg.Database); err != nil {
		return fmt.Errorf("failed to copy database config: %w", err)
	}
	db, err := database.NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database connection: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		db.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("Database connected and migrated")

	var lndCfg lnnode.Config
	if err := copier.Copy(&lndCfg, &Cfg.LND); err != nil {
		db.Close()
		return fmt.Errorf("failed to copy lnd config: %w", err)
	}
	node, err := lnnode.NewClient(lndCfg)
	if err != nil {
		db.Close()
		return fmt.Errorf("failed to connect to LND: %w", err)
	}

	flowCfg := requestflow.Config{
		Schema:          Cfg.Public.Schema,
		Domain:          Cfg.Public.Domain,
		MinWithdrawSats: Cfg.Protocol.MinWithdrawSats,
		FeeLimitSats:    Cfg.Protocol.FeeLimitSats,
		MinSendableSats: Cfg.Protocol.MinSendableSats,
		MaxSendableSats: Cfg.Protocol.MaxSendableSats,
		ChallengeTTL:    time.Duration(Cfg.Protocol.ChallengeTTLSecs) * time.Second,
		PendingWindow:   time.Duration(Cfg.Protocol.PendingWindowSecs) * time.Second,
	}
	rateWindow := time.Duration(Cfg.Protocol.RateWindowSecs) * time.Second

	rt := gwruntime.New(db, node, flowCfg, rateWindow, Cfg.Auth.JWTSecret, Cfg.Auth.JWTAlgorithm)
	defer rt.Close()

	go rt.RunReconcilers(ctx)

	server := httpapi.NewServer(rt.Flow, rt.Verifier)
	httpSrv := &http.Server{
		Addr:    ":8080",
		Handler: server.Routes(),
	}
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server stopped unexpectedly", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server did not shut down cleanly", zap.Error(err))
	}

	logger.Info("lnurl gateway shut down gracefully")
	return nil
}
