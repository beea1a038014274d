package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/0g-deployment-watchdog/internal/api"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/auth"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/bridge"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/chain"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/config"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/deployment"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/funding"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/ledger"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/metrics"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/timer"
	"github.com/0gfoundation/0g-deployment-watchdog/internal/watchdog"
)

func main() {
	log, _ := zap.NewProduction()
	defer log.Sync() //nolint:errcheck

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis ping failed", zap.Error(err))
	}

	// ── Collaborators ─────────────────────────────────────────────────────────
	terms, err := buildTerms(cfg)
	if err != nil {
		log.Fatal("invalid terms", zap.Error(err))
	}
	deployments, err := buildDeploymentClient(cfg)
	if err != nil {
		log.Fatal("deployment client init failed", zap.Error(err))
	}
	if evm, ok := deployments.(*chain.Client); ok {
		log.Info("evm deployment backend",
			zap.Stringer("chain_id", evm.ChainID()),
			zap.String("contract", evm.ContractAddress().Hex()),
		)
	}
	relayer := bridge.NewHTTPClient(cfg.Bridge.APIURL, cfg.Bridge.APIKey)

	clock, err := timer.NewClock(cfg.Timer.TickSec, log)
	if err != nil {
		log.Fatal("timer init failed", zap.Error(err))
	}
	defer clock.Stop()

	operators, err := auth.ParseOperators(cfg.Auth.Operators)
	if err != nil {
		log.Fatal("invalid OPERATOR_ADDRESSES", zap.Error(err))
	}

	m := metrics.New()

	runID := strconv.FormatInt(time.Now().UnixNano(), 36)
	escrow := buildEscrow(cfg, rdb, terms.Brand, runID)
	if re, ok := escrow.(*ledger.RedisEscrow); ok {
		log.Info("escrow backed by redis", zap.String("key", re.Key()))
	}

	// ── Watchdog instance ─────────────────────────────────────────────────────
	inst, err := watchdog.New(terms, watchdog.Deps{
		Deployments: deployments,
		Bridge:      relayer,
		Timer:       clock,
		Escrow:      escrow,
		Journal:     funding.NewRedisJournal(rdb, terms.DeploymentID, funding.DefaultJournalLimit),
		Metrics:     m,
		Log:         log,
	})
	if err != nil {
		log.Fatal("watchdog init failed", zap.Error(err))
	}
	defer inst.Close()

	go func() {
		<-inst.Started()
		select {
		case <-inst.Done():
			log.Info("watch ended; still serving status", zap.NamedError("reason", inst.Wait()))
		case <-ctx.Done():
		}
	}()

	// ── HTTP server ───────────────────────────────────────────────────────────
	r := api.NewRouter(api.NewHandler(inst, log), auth.Middleware(rdb, operators), m)
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Info("HTTP server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("deployment", terms.DeploymentID),
			zap.String("backend", cfg.Deployment.Backend),
			zap.Stringer("timer", clock),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	log.Info("shutting down...")
	cancel()
	inst.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete")
}

// buildTerms turns the configured terms into watchdog.Terms.
func buildTerms(cfg *config.Config) (watchdog.Terms, error) {
	amount, err := ledger.ParseAmount(cfg.Terms.FundingAmount)
	if err != nil {
		return watchdog.Terms{}, fmt.Errorf("FUNDING_AMOUNT: %w", err)
	}
	return watchdog.Terms{
		DeploymentID:  cfg.Terms.DeploymentID,
		CheckInterval: cfg.Terms.CheckInterval,
		MaxChecks:     cfg.Terms.MaxChecks,
		FundingAmount: amount,
		Denom:         cfg.Terms.Denom,
		Brand:         ledger.Brand(cfg.Terms.Brand),
		Peg:           bridge.Peg(cfg.Terms.Peg),
	}, nil
}

func buildDeploymentClient(cfg *config.Config) (deployment.Client, error) {
	switch cfg.Deployment.Backend {
	case config.BackendEVM:
		return chain.NewClient(cfg)
	case config.BackendHTTP:
		return deployment.NewHTTPClient(cfg.Deployment.APIURL, cfg.Deployment.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown deployment backend %q", cfg.Deployment.Backend)
	}
}

// buildEscrow returns nil for the in-memory ledger; watchdog.New creates it.
// A Redis escrow is keyed by deployment and run, so every process lifetime
// starts from an empty reserve.
func buildEscrow(cfg *config.Config, rdb *redis.Client, brand ledger.Brand, runID string) ledger.Escrow {
	if cfg.Ledger.Backend == config.LedgerRedis {
		return ledger.NewRedisEscrow(rdb, cfg.Terms.DeploymentID+":"+runID, brand)
	}
	return nil
}
