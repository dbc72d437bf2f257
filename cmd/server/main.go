// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/opentrusty/trustcore/internal/audit"
	"github.com/opentrusty/trustcore/internal/bootstrap"
	"github.com/opentrusty/trustcore/internal/config"
	"github.com/opentrusty/trustcore/internal/gateway"
	"github.com/opentrusty/trustcore/internal/observability/logger"
	"github.com/opentrusty/trustcore/internal/observability/metrics"
	"github.com/opentrusty/trustcore/internal/observability/tracing"
	"github.com/opentrusty/trustcore/internal/rbac"
	"github.com/opentrusty/trustcore/internal/secrets"
	"github.com/opentrusty/trustcore/internal/token"
	transportHTTP "github.com/opentrusty/trustcore/internal/transport/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.InitLogger(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	for _, w := range cfg.Warnings() {
		log.Warn("configuration warning", logger.String("warning", w))
	}

	if err := run(cfg, log); err != nil {
		log.Error("server failed", logger.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "starting trustcore", logger.String("version", cfg.Telemetry.ServiceVersion))

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Telemetry.ServiceVersion,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
	})
	if err != nil {
		return fmt.Errorf("initialize tracer: %w", err)
	}
	defer func() {
		if err := tracer.Shutdown(context.Background()); err != nil {
			log.Error("tracer shutdown failed", logger.Error(err))
		}
	}()

	meter, err := metrics.New(metrics.Config{
		Enabled:     cfg.Telemetry.MetricsEnabled,
		ServiceName: cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("initialize meter: %w", err)
	}
	defer func() {
		if err := meter.Shutdown(context.Background()); err != nil {
			log.Error("meter shutdown failed", logger.Error(err))
		}
	}()
	inst, err := metrics.NewSecurityInstruments(meter)
	if err != nil {
		return fmt.Errorf("initialize metrics: %w", err)
	}

	sec, err := bootstrap.OpenSecrets(ctx, cfg, inst, log)
	if err != nil {
		return err
	}

	store, err := bootstrap.OpenAuditStore(ctx, cfg, sec, log)
	if err != nil {
		return fmt.Errorf("open audit store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error("audit store close failed", logger.Error(err))
		}
	}()

	trail, err := bootstrap.NewTrail(store, cfg, inst, log)
	if err != nil {
		return fmt.Errorf("initialize audit trail: %w", err)
	}

	secret, err := bootstrap.SigningSecret(ctx, cfg, sec)
	if err != nil {
		return err
	}
	tokens, err := token.NewService(token.Config{
		Secret:     secret,
		Algorithm:  cfg.Token.Algorithm,
		AccessTTL:  cfg.Token.AccessTTL,
		RefreshTTL: cfg.Token.RefreshTTL,
	})
	if err != nil {
		return fmt.Errorf("initialize token service: %w", err)
	}

	gwOpts := []gateway.Option{
		gateway.WithLogger(log),
		gateway.WithInstruments(inst),
		gateway.WithTracer(tracer.Tracer()),
		gateway.WithAuditedAuthorization(cfg.Audit.Authorization),
	}
	if cfg.Gateway.APIKeysFile != "" {
		keys, err := gateway.LoadKeyFile(cfg.Gateway.APIKeysFile, sec.Vault, secrets.IsEncrypted)
		if err != nil {
			return err
		}
		log.InfoContext(ctx, "api keys loaded", logger.Path(cfg.Gateway.APIKeysFile), logger.Int("count", keys.Len()))
		gwOpts = append(gwOpts, gateway.WithAPIKeys(keys))
	}
	gw, err := gateway.New(tokens, trail, rbac.DefaultModel(), gwOpts...)
	if err != nil {
		return fmt.Errorf("initialize gateway: %w", err)
	}

	var rateLimiter *transportHTTP.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
		go rateLimiter.Run(ctx)
	}

	trustedProxies, err := cfg.Server.TrustedProxyPrefixes()
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	handler := transportHTTP.NewHandler(gw, tokens, trail, sec.Manager, log)
	routerCfg := transportHTTP.RouterConfig{
		RequestTimeout: cfg.Server.RequestTimeout,
		TrustedProxies: trustedProxies,
	}
	if cfg.Telemetry.MetricsEnabled {
		routerCfg.Metrics = meter.Handler()
	}
	router := transportHTTP.NewRouter(handler, rateLimiter, routerCfg)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	recordLifecycle(ctx, trail, log, "startup")

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting http server", logger.Component("server"), logger.Operation("listen"), logger.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", logger.Error(err))
	}
	recordLifecycle(shutdownCtx, trail, log, "shutdown")

	log.Info("server stopped")
	return nil
}

func recordLifecycle(ctx context.Context, trail *audit.Trail, log *slog.Logger, action string) {
	_, err := trail.Record(context.WithoutCancel(ctx), audit.Entry{
		Type:     audit.TypeSystemEvent,
		User:     "system",
		Action:   action,
		Resource: "server",
		Status:   audit.StatusSuccess,
	})
	if err != nil {
		log.Error("failed to record lifecycle event", logger.Operation(action), logger.Error(err))
	}
}
