package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fitflowhq/fitflow/libs/config"
	"github.com/fitflowhq/fitflow/libs/db"
	"github.com/fitflowhq/fitflow/libs/httpx"
	"github.com/fitflowhq/fitflow/libs/kafkax"
	otelx "github.com/fitflowhq/fitflow/libs/otel"
	"github.com/fitflowhq/fitflow/libs/outbox"
	"github.com/fitflowhq/fitflow/libs/runtime"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/handlers"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/plans"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/storage"
	"github.com/fitflowhq/fitflow/services/billing-service/internal/subscriptions"
)

func main() {
	service := config.String("SERVICE_NAME", "billing-service")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	prices := plans.PriceTable{
		Start: config.String("STRIPE_PRICE_START", ""),
		Pro:   config.String("STRIPE_PRICE_PRO", ""),
		Elite: config.String("STRIPE_PRICE_ELITE", ""),
	}

	repo := storage.NewRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	subSvc := subscriptions.New(repo, outboxRepo)

	kafkaBrokers := config.String("KAFKA_BROKERS", "")
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   kafkaBrokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkaBrokers)},
	)

	h := handlers.New(repo, outboxRepo, logger, handlers.Config{
		JWTSecret:                     jwtSecret,
		StripeWebhookSecret:           config.String("STRIPE_WEBHOOK_SECRET", ""),
		StripeWebhookToleranceSeconds: config.Int("STRIPE_WEBHOOK_TOLERANCE_SECONDS", 300),
		StripeSecretKey:               config.String("STRIPE_SECRET_KEY", ""),
		Prices:                        prices,
		CheckoutSuccessURL:            config.String("CHECKOUT_SUCCESS_URL", ""),
		CheckoutCancelURL:             config.String("CHECKOUT_CANCEL_URL", ""),
	})
	mux.HandleFunc("POST /api/v1/billing/checkout", h.CreateCheckout)
	mux.HandleFunc("GET /api/v1/billing/subscription", h.GetSubscription)
	mux.HandleFunc("POST /api/v1/billing/subscription/cancel", h.CancelSubscription)
	mux.HandleFunc("POST /api/v1/billing/webhooks/stripe", h.StripeWebhook)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "billing")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	// Periodic self-heal against missed webhook deliveries.
	if config.Bool("STRIPE_RECONCILE_ENABLED", false) {
		interval := config.Seconds("STRIPE_RECONCILE_INTERVAL_SECONDS", 5*time.Minute)
		rec := subscriptions.NewStripeReconciler(pool, repo, subSvc, logger, subscriptions.StripeReconcilerConfig{
			StripeSecretKey: config.String("STRIPE_SECRET_KEY", ""),
			Prices:          prices,
			BatchSize:       config.Int("STRIPE_RECONCILE_BATCH_SIZE", 50),
			AdvisoryLockKey: int64(config.Int("STRIPE_RECONCILE_LOCK_KEY", 7301001)),
		})
		go rec.Run(ctx, interval)
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
