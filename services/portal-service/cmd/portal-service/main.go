package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/fitflowhq/fitflow/libs/config"
	"github.com/fitflowhq/fitflow/libs/db"
	"github.com/fitflowhq/fitflow/libs/httpx"
	otelx "github.com/fitflowhq/fitflow/libs/otel"
	"github.com/fitflowhq/fitflow/libs/runtime"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/consumer"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/handlers"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/inbox"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/readmodel"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/sessions"
	"github.com/fitflowhq/fitflow/services/portal-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "portal-service")
	port, err := config.Port("PORT", "8082")
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

	// Sessions live in Redis; the portal cannot run without it.
	redisAddr, err := config.RequiredString("REDIS_ADDR")
	if err != nil {
		panic(err)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     redisAddr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
	defer func() { _ = rdb.Close() }()

	jwtSecret, err := config.RequiredString("JWT_SECRET")
	if err != nil {
		panic(err)
	}

	repo := storage.NewRepository(pool)
	sessionStore := sessions.NewStore(rdb, config.Seconds("SESSION_TTL_SECONDS", 24*time.Hour))
	views := readmodel.NewRepository(pool)

	h := handlers.New(repo, sessionStore, views, logger, handlers.Config{
		JWTSecret:     jwtSecret,
		SecureCookies: strings.EqualFold(config.String("ENV", "development"), "production"),
	})

	mux := runtime.NewBaseMux(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}},
	)

	// Student-facing portal routes (cookie sessions, no JWT).
	mux.HandleFunc("POST /api/v1/portal/{studentID}/unlock", h.UnlockPortal)
	mux.HandleFunc("GET /api/v1/portal/{studentID}", h.ViewPortal)
	mux.HandleFunc("POST /api/v1/portal/{studentID}/logout", h.Logout)
	mux.HandleFunc("POST /api/v1/portal/{studentID}/workouts/{workoutID}/unlock", h.UnlockWorkout)
	mux.HandleFunc("GET /api/v1/portal/{studentID}/workouts/{workoutID}", h.ViewWorkout)

	// Public shared links.
	mux.HandleFunc("GET /api/v1/shared/workouts/{slug}", h.ViewSharedWorkout)
	mux.HandleFunc("POST /api/v1/shared/workouts/{slug}/unlock", h.UnlockSharedWorkout)

	// Trainer-facing management routes (JWT).
	mux.HandleFunc("POST /api/v1/students", h.CreateStudent)
	mux.HandleFunc("GET /api/v1/students", h.ListStudents)
	mux.HandleFunc("GET /api/v1/students/{studentID}", h.GetStudent)
	mux.HandleFunc("PUT /api/v1/students/{studentID}", h.UpdateStudent)
	mux.HandleFunc("DELETE /api/v1/students/{studentID}", h.DeactivateStudent)
	mux.HandleFunc("PUT /api/v1/students/{studentID}/password", h.SetStudentPassword)
	mux.HandleFunc("POST /api/v1/workouts", h.CreateWorkout)
	mux.HandleFunc("GET /api/v1/workouts", h.ListWorkouts)
	mux.HandleFunc("GET /api/v1/workouts/{workoutID}", h.GetWorkout)
	mux.HandleFunc("PUT /api/v1/workouts/{workoutID}", h.UpdateWorkout)
	mux.HandleFunc("DELETE /api/v1/workouts/{workoutID}", h.DeleteWorkout)
	mux.HandleFunc("GET /api/v1/trainer/billing", h.GetBillingView)

	// Unlock endpoints are the brute-force surface; rate limit them.
	limiter := httpx.NewRedisRateLimiter(rdb,
		config.Int("RATE_LIMIT_PER_MINUTE", 30), time.Minute,
		config.String("RATE_LIMIT_PREFIX", "portal-rl"))

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins:   strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           10 * time.Minute,
		}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Seconds("REQUEST_TIMEOUT_SECONDS", 10*time.Second)),
		limiter.Middleware(logger, config.Bool("RATE_LIMIT_FAIL_OPEN", true)),
	)
	handler = otelhttp.NewHandler(handler, "portal")
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

	// Billing view consumer.
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		c := consumer.New(logger, inbox.NewRepository(pool), views, consumer.Config{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "portal-service"),
			Topic:   config.String("KAFKA_BILLING_TOPIC", "billing.subscription.changed.v1"),
		})
		go c.Run(ctx)
	} else {
		logger.Warn("billing view consumer disabled (no kafka brokers configured)")
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
