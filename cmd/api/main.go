package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmasave-core/internal/audit"
	"pharmasave-core/internal/auth"
	"pharmasave-core/internal/config"
	"pharmasave-core/internal/fees"
	"pharmasave-core/internal/httpapi"
	"pharmasave-core/internal/ledger"
	"pharmasave-core/internal/reporting"
	"pharmasave-core/internal/settlement"
	"pharmasave-core/internal/withdrawal"
	"pharmasave-core/pkg/logger"
	"pharmasave-core/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env)
	slog.SetDefault(log)

	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	feeStore, err := fees.NewStore(fees.FeeConfiguration{
		Version:                cfg.Fees.Version,
		BuyerFeePct:            cfg.Fees.BuyerFeePct,
		SellerFeePct:           cfg.Fees.SellerFeePct,
		WithdrawalFlatFee:      cfg.Fees.WithdrawalFlatFee,
		ProcessingFeePct:       cfg.Fees.ProcessingFeePct,
		MonthlySubscriptionFee: cfg.Fees.MonthlySubscriptionFee,
	})
	if err != nil {
		log.Error("fee config invalid", "err", err)
		os.Exit(1)
	}
	policy := fees.NewPolicy(feeStore)

	store := ledger.NewPostgresStore(db, 5*time.Second)
	txRepo := settlement.NewPostgresRepository(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))

	engine := settlement.NewEngine(txRepo, store, policy).WithAudit(auditSvc)

	evaluator := withdrawal.NewEvaluator(withdrawal.RiskConfig{
		ReviewThreshold:  cfg.Risk.ReviewThreshold,
		VelocityWindow:   cfg.Risk.VelocityWindow,
		NewAccountWindow: cfg.Risk.NewAccountWindow,
	})
	withdrawals := withdrawal.NewService(
		withdrawal.NewPostgresRepository(db),
		store,
		policy,
		evaluator,
		auditSvc,
	).WithVelocityTracker(withdrawal.NewRedisVelocity(rdb, 24*time.Hour))

	h := httpapi.Handlers{
		Auth:         authManager,
		Settlements:  engine,
		Transactions: txRepo,
		Withdrawals:  withdrawals,
		Ledger:       store,
		Reports:      reporting.NewService(store),
		FeeStore:     feeStore,
		OnFeeChange: func(c *gin.Context, adminID, adminRole string, next fees.FeeConfiguration) {
			if err := auditSvc.LogFeeConfigChange(c.Request.Context(), adminID, adminRole,
				"fee configuration swapped", ""); err != nil {
				log.Warn("fee config audit failed", "err", err, "version", next.Version)
			}
		},
	}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))

	registerRoutes(r, h, auth.RequireAccessToken(authManager))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}

	_ = logger.ShutdownFlush(shutdownCtx, 2*time.Second)
}
