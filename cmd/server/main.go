package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"musegate/internal/app"
	"musegate/internal/config"
	"musegate/internal/ratelimit"
	"musegate/internal/server"
	"musegate/internal/util"
	"musegate/pkg/ai"
	"musegate/pkg/auth"
	"musegate/pkg/payment"
	"musegate/pkg/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	sessionTTL, err := config.ParseDuration("sessionTTL", cfg.SessionTTL)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	presignTTL, err := config.ParseDuration("presignTTL", cfg.PresignTTL)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}
	reconcileInterval, err := config.ParseDuration("reconcileInterval", cfg.ReconcileInterval)
	if err != nil {
		log.Fatalf("failed to parse config: %v", err)
	}

	util.InitLogger(cfg.LogLevel)

	appCfg := app.Config{
		DatabaseURL:     cfg.DatabaseURL,
		RedisAddr:       cfg.RedisAddr,
		RedisPassword:   cfg.RedisPassword,
		SessionTTL:      sessionTTL,
		JWTSecret:       cfg.JWTSecret,
		Packages:        cfg.Packages,
		HistoryLimit:    cfg.HistoryLimit,
		PresignTTL:      presignTTL,
		RefundOnFailure: cfg.RefundOnFailure,
	}

	if cfg.Minio.Endpoint != "" {
		objects, err := storage.NewMinioStore(cfg.Minio.Endpoint, cfg.Minio.AccessKey,
			cfg.Minio.SecretKey, cfg.Minio.Bucket, cfg.Minio.UseSSL)
		if err != nil {
			log.Fatalf("failed to init object storage: %v", err)
		}
		appCfg.Objects = objects
	}
	if cfg.PayPal.ClientID != "" {
		payments, err := payment.NewPayPalClient(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret)
		if err != nil {
			log.Fatalf("failed to init payments: %v", err)
		}
		appCfg.Payments = payments
	}
	if cfg.Gemini.APIKey != "" {
		gemini, err := ai.NewGeminiClient(cfg.Gemini.APIKey)
		if err != nil {
			log.Fatalf("failed to init gemini client: %v", err)
		}
		appCfg.TextGen = ai.NewGeminiGenerator(gemini, cfg.Gemini.Model)
	}
	if cfg.Stability.APIKey != "" {
		stability, err := ai.NewStabilityClient(cfg.Stability.APIKey, cfg.Stability.Model)
		if err != nil {
			log.Fatalf("failed to init stability client: %v", err)
		}
		appCfg.ImageGen = stability
	}
	if cfg.GoogleOAuthClientID != "" {
		appCfg.Verifier = auth.NewGoogleVerifier(cfg.GoogleOAuthClientID)
	}

	appCore, err := app.New(appCfg)
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trustedProxies, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}
	var authLimiter *ratelimit.FixedWindowLimiter
	if cfg.AuthRateLimitPerMinute > 0 {
		authLimiter, err = ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword,
			"musegate:ratelimit:auth", cfg.AuthRateLimitPerMinute, time.Minute)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		AuthLimiter:    authLimiter,
		TrustedProxies: trustedProxies,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if reconcileInterval > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(reconcileInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if err := appCore.ReconcileUnlocks(); err != nil {
						slog.Error("unlock reconciliation failed", "err", err)
					}
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
