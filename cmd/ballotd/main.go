// Copyright (C) 2026, Civora Project. All rights reserved.
// See the file LICENSE for licensing terms.

// Command ballotd is the ballot core server: it wires every component
// (C1-C9) together, starts the HTTP egress surface, and runs the anchor
// worker until the process receives a shutdown signal. Modeled on the
// teacher's cmd/consensus single wiring main.go.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/civora/ballotcore/internal/aggregation"
	"github.com/civora/ballotcore/internal/anchor"
	"github.com/civora/ballotcore/internal/audit"
	"github.com/civora/ballotcore/internal/config"
	"github.com/civora/ballotcore/internal/credential"
	"github.com/civora/ballotcore/internal/httpapi"
	"github.com/civora/ballotcore/internal/log"
	"github.com/civora/ballotcore/internal/metrics"
	"github.com/civora/ballotcore/internal/nonce"
	"github.com/civora/ballotcore/internal/nullifier"
	"github.com/civora/ballotcore/internal/receipt"
	"github.com/civora/ballotcore/internal/store"
	"github.com/civora/ballotcore/internal/vote"
	"github.com/civora/ballotcore/internal/xcrypto"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := log.New(cfg.Environment, cfg.LogFilePath)
	defer logger.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := store.Open(ctx, cfg.DatabasePath)
	if err != nil {
		logger.Error("ballotd: open store failed", zap.Error(err))
		os.Exit(1)
	}
	defer s.Close()

	reg, err := xcrypto.New(xcrypto.Variant(cfg.CryptoHasher), cfg.NullifierSecret)
	if err != nil {
		logger.Error("ballotd: crypto registry init failed", zap.Error(err))
		os.Exit(1)
	}
	nulls := nullifier.New(reg)

	kv := store.NewKV(s)
	nonces := nonce.New(kv, nonce.TTLs{
		nonce.PurposeVote:           cfg.NonceTTL.Vote,
		nonce.PurposeChallenge:      cfg.NonceTTL.Challenge,
		nonce.PurposeEnrollLiveness: cfg.NonceTTL.EnrollLiveness,
		nonce.PurposeAdminMFA:       cfg.NonceTTL.AdminMFA,
	})

	signer, err := receipt.NewSigner(cfg.ReceiptPrivateKeyPEM, cfg.ReceiptPublicKeyPEM)
	if err != nil {
		logger.Error("ballotd: receipt signer init failed", zap.Error(err))
		os.Exit(1)
	}

	metricsReg := metrics.NewRegistry()
	m, err := metrics.New("ballotcore", metricsReg)
	if err != nil {
		logger.Error("ballotd: metrics init failed", zap.Error(err))
		os.Exit(1)
	}

	chain := audit.New(s)
	votes := vote.New(s, nonces, nulls, reg, signer, chain, cfg.VoteBucketWindow)
	agg := aggregation.New(s, chain)
	agg.Metrics = m

	ledger := anchor.NewHTTPLedger(cfg.LedgerEndpoint, cfg.LedgerTimeout)
	worker := anchor.New(s, ledger, chain, logger.With(zap.String("component", "anchor")), cfg.AnchorInterval)
	worker.Metrics = m

	signingMethod := jwt.GetSigningMethod(cfg.CredentialSigningAlgorithm)
	if signingMethod == nil {
		logger.Error("ballotd: unknown credential signing algorithm", zap.String("algorithm", cfg.CredentialSigningAlgorithm))
		os.Exit(1)
	}
	creds := credential.NewVerifier(cfg.CredentialSigningSecret, signingMethod, cfg.CredentialIssuers)

	health := httpapi.NewHealthRegistry()
	health.Register("store", storeChecker{s})

	handler, err := httpapi.New(votes, nonces, signer, agg, creds, s, m, logger.With(zap.String("component", "httpapi")), health)
	if err != nil {
		logger.Error("ballotd: httpapi init failed", zap.Error(err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle("/metrics", promhttp.HandlerFor(metricsReg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go worker.Run(ctx)
	go sweepExpiredNonces(ctx, nonces, logger)

	go func() {
		logger.Info("ballotd: listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ballotd: server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("ballotd: shutting down")
	worker.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("ballotd: graceful shutdown failed", zap.Error(err))
	}
}

// sweepExpiredNonces periodically clears expired kv rows so the table
// doesn't grow unbounded with consumed or timed-out nonces.
func sweepExpiredNonces(ctx context.Context, nonces *nonce.Store, logger log.Logger) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := nonces.Sweep(ctx)
			if err != nil {
				logger.Warn("ballotd: nonce sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				logger.Info("ballotd: swept expired nonces", zap.Int64("count", n))
			}
		}
	}
}

// storeChecker adapts *store.Store to httpapi.Checker via a database ping.
type storeChecker struct {
	s *store.Store
}

func (c storeChecker) HealthCheck(ctx context.Context) (interface{}, error) {
	if err := c.s.DB().PingContext(ctx); err != nil {
		return nil, err
	}
	return map[string]interface{}{"driver": "sqlite"}, nil
}
