package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"poolpilot/internal/chain"
	"poolpilot/internal/chain/evm"
	"poolpilot/internal/config"
	cronrunner "poolpilot/internal/cron"
	"poolpilot/internal/custody"
	"poolpilot/internal/db"
	"poolpilot/internal/detector"
	"poolpilot/internal/executor"
	"poolpilot/internal/handler"
	"poolpilot/internal/ledger"
	"poolpilot/internal/logger"
	"poolpilot/internal/matcher"
	"poolpilot/internal/models"
	"poolpilot/internal/refresher"
	gormrepository "poolpilot/internal/repository/gorm"
	"poolpilot/internal/scheduler"
)

func main() {
	cfgPath := os.Getenv("PP_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("PP_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		log.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		log.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		log.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	vault, err := custody.NewVault(store, cfg.Custody.SecretHex)
	if err != nil {
		log.Fatal("custody init failed", zap.Error(err))
	}

	chains := chain.NewRegistry()
	var clients []*evm.Client
	for _, cc := range cfg.Chains {
		client, err := evm.NewClient(cc.ChainID, cc.RPCURL, cc.FactoryAddress, cc.RPCTimeout, log)
		if err != nil {
			log.Fatal("chain client init failed", zap.Int64("chain_id", cc.ChainID), zap.Error(err))
		}
		chains.Register(client)
		clients = append(clients, client)
	}
	defer func() {
		for _, client := range clients {
			client.Close()
		}
	}()

	var recorder executor.ContributionRecorder
	if cfg.Ledger.Enabled {
		recorder = ledger.NewClient(cfg.Ledger.BaseURL, cfg.Ledger.APIKey, cfg.Ledger.Timeout, log)
	}

	match := matcher.New(store, matcher.AllowAllVerifier{}, log)
	exec := executor.New(store, vault, chains, recorder, executor.Config{
		ConfirmTimeout: cfg.Executor.ConfirmTimeout,
	}, log)
	sched := scheduler.New(store, match, exec, scheduler.Config{
		Interval:     cfg.Scheduler.Interval,
		RecentWindow: cfg.Scheduler.RecentWindow,
		MaxPools:     cfg.Scheduler.MaxPools,
	}, log)

	detectors := detector.NewSet()
	for _, cc := range cfg.Chains {
		reader, err := chains.Reader(cc.ChainID)
		if err != nil {
			log.Fatal("reader lookup failed", zap.Int64("chain_id", cc.ChainID), zap.Error(err))
		}
		detectors.Add(detector.New(reader, store, detector.Config{
			PollInterval:     cfg.Detector.PollInterval,
			CatchupBatchSize: cfg.Detector.CatchupBatchSize,
			CatchupPause:     cfg.Detector.CatchupPause,
			StartBlock:       cc.StartBlock,
		}, log))
	}

	// Detection feeds the match-and-execute path directly so a new pool is
	// considered immediately instead of waiting for the next cycle.
	detectors.OnPool(func(ctx context.Context, pool *models.Pool) {
		sched.ProcessPool(ctx, pool)
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	if cfg.Detector.Enabled {
		if err := detectors.StartAll(rootCtx); err != nil {
			log.Fatal("detectors start failed", zap.Error(err))
		}
		defer detectors.StopAll()
	}
	if cfg.Scheduler.Enabled {
		sched.Start()
		defer sched.Stop()
	}

	runner := cronrunner.New(log, rootCtx)
	if cfg.Executor.ReconcileEnabled {
		reconciler := executor.NewReconciler(store, cfg.Executor.StaleAfter, log)
		spec := "@every " + cfg.Executor.ReconcileInterval.String()
		if _, err := runner.Add(spec, func(ctx context.Context) {
			if _, err := reconciler.ReconcileStale(ctx); err != nil {
				log.Error("reconcile sweep failed", zap.Error(err))
			}
		}); err != nil {
			log.Fatal("schedule reconcile failed", zap.Error(err))
		}
	}
	if cfg.Refresh.Enabled {
		refresh := refresher.New(store, chains, cfg.Refresh.Window, log)
		if _, err := runner.Add(cfg.Refresh.Cron, func(ctx context.Context) {
			if _, err := refresh.Refresh(ctx); err != nil {
				log.Error("pool refresh failed", zap.Error(err))
			}
		}); err != nil {
			log.Fatal("schedule pool refresh failed", zap.Error(err))
		}
	}
	runner.Start()
	defer runner.Stop()

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	systemHandler := &handler.SystemHandler{Repo: store, Scheduler: sched, Detectors: detectors}
	systemHandler.Register(engine)
	ruleHandler := &handler.RuleHandler{Repo: store}
	ruleHandler.Register(engine)
	poolHandler := &handler.PoolHandler{Repo: store, Matcher: match, Executor: exec}
	poolHandler.Register(engine)
	investmentHandler := &handler.InvestmentHandler{Repo: store}
	investmentHandler.Register(engine)

	server := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}
	go func() {
		log.Info("http server listening", zap.String("addr", cfg.Server.HTTPAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	rootCancel()
}
