package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"moyasar-gateway/internal/checkout"
	"moyasar-gateway/internal/config"
	"moyasar-gateway/internal/db"
	"moyasar-gateway/internal/logger"
	"moyasar-gateway/internal/metrics"
	"moyasar-gateway/internal/middleware"
	"moyasar-gateway/internal/payment"
	"moyasar-gateway/internal/payment/webhook"
	"moyasar-gateway/internal/plugin"
	"moyasar-gateway/internal/transport"

	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = startServer
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	metrics.MustRegister()

	database := initDBFunc(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	limiter := middleware.NewRateLimiter(cfg.InternalSecretKey)
	go limiter.Cleanup(ctx, time.Minute)

	handler, err := newServer(cfg, database, limiter)
	if err != nil {
		return err
	}

	logger.L().Info("payment gateway server starting",
		zap.String("port", cfg.AppPort),
		zap.Bool("moyasar_active", cfg.MoyasarActive),
	)
	return startServerFunc(ctx, ":"+cfg.AppPort, handler)
}

// newServer wires the gateway, plugin, payment service and webhook into
// one router.
func newServer(cfg *config.Config, database *sql.DB, limiter *middleware.RateLimiter) (http.Handler, error) {
	gwCfg := payment.GatewayConfig{
		GatewayName:         payment.GatewayName,
		PublicKey:           cfg.MoyasarPublicKey,
		PrivateKey:          cfg.MoyasarSecretKey,
		SupportedCurrencies: cfg.MoyasarSupportedCurrencies,
		AutoCapture:         true,
		BaseURL:             cfg.MoyasarBaseURL,
		Timeout:             cfg.MoyasarHTTPTimeout,
	}

	p, err := plugin.NewMoyasarPlugin(gwCfg, cfg.MoyasarActive, payment.NewMoyasarGateway(gwCfg))
	if err != nil {
		return nil, err
	}

	// lifecycle calls, including the webhook's refund-or-void, go through
	// the plugin so they respect activation
	paymentSvc := payment.NewService(p, database)

	processor := webhook.NewProcessor(
		database,
		db.NewTransactor(database),
		checkout.NewCompleter(),
		paymentSvc,
		payment.GatewayName,
	)
	p.SetWebhookHandler(webhook.NewHandler(cfg.MoyasarSecretKey, processor))

	return transport.NewRouter(transport.Deps{
		Plugin:        p,
		Payments:      paymentSvc,
		Limiter:       limiter,
		DB:            database,
		ServiceSecret: cfg.ServiceJWTSecret,
	}), nil
}

func startServer(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.L().Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
