package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/mentorgrid/mentorgrid/libs/config"
	"github.com/mentorgrid/mentorgrid/libs/db"
	"github.com/mentorgrid/mentorgrid/libs/httpx"
	"github.com/mentorgrid/mentorgrid/libs/kafkax"
	otelx "github.com/mentorgrid/mentorgrid/libs/otel"
	"github.com/mentorgrid/mentorgrid/libs/runtime"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calendar"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/calsync"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/handlers"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/lifecycle"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/outbox"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/profile"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/storage"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/internal/token"
	"github.com/mentorgrid/mentorgrid/services/scheduling-service/migrations"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	_ = godotenv.Load()

	service := config.String("SERVICE_NAME", "scheduling-service")
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

	if err := db.Migrate(ctx, pool, migrations.FS, "."); err != nil {
		logger.Error("migrations failed", "err", err)
		panic(err)
	}

	actionSecret, err := config.RequiredString("ACTION_TOKEN_SECRET")
	if err != nil {
		panic(err)
	}
	accessSecret, err := config.RequiredString("ACCESS_TOKEN_SECRET")
	if err != nil {
		panic(err)
	}
	internalSecret, err := config.RequiredString("INTERNAL_API_SECRET")
	if err != nil {
		panic(err)
	}

	location := time.UTC
	if tz := config.String("SERVICE_TIMEZONE", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			logger.Error("invalid SERVICE_TIMEZONE, using UTC", "tz", tz, "err", err)
		} else {
			location = loc
		}
	}

	appointmentRepo := storage.NewAppointmentRepository(pool)
	availabilityRepo := storage.NewAvailabilityRepository(pool)
	tokenRepo := storage.NewTokenRepository(pool)
	outboxRepo := outbox.NewRepository(pool)
	syncJobRepo := calsync.NewRepository(pool)

	var calendarAdapter calendar.Adapter
	if calendarID := config.String("GOOGLE_CALENDAR_ID", ""); calendarID != "" {
		adapter, err := calendar.NewGoogleAdapter(ctx, calendar.GoogleConfig{
			CalendarID:   calendarID,
			ClientID:     config.String("GOOGLE_CLIENT_ID", ""),
			ClientSecret: config.String("GOOGLE_CLIENT_SECRET", ""),
			RefreshToken: config.String("GOOGLE_REFRESH_TOKEN", ""),
		})
		if err != nil {
			logger.Error("calendar adapter init failed; calendar sync disabled", "err", err)
		} else {
			calendarAdapter = adapter
		}
	}

	profileProvider := profile.NewHTTPProvider(config.String("PROFILE_SERVICE_URL", "http://localhost:8081"))
	issuer := token.NewIssuer(actionSecret, config.Duration("ACTION_TOKEN_TTL_MINUTES", 7*24*time.Hour))

	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	syncWorker := calsync.NewWorker(pool, syncJobRepo, appointmentRepo, outboxRepo, calendarAdapter, logger)
	go syncWorker.Run(ctx)

	sweeper := lifecycle.NewSweeper(appointmentRepo, logger, config.Duration("COMPLETION_SWEEP_MINUTES", time.Minute))
	go sweeper.Run(ctx)

	handler := handlers.New(handlers.Config{
		Pool:           pool,
		Appointments:   appointmentRepo,
		Windows:        availabilityRepo,
		Tokens:         tokenRepo,
		Outbox:         outboxRepo,
		SyncJobs:       syncJobRepo,
		Profiles:       profileProvider,
		Calendar:       calendarAdapter,
		Issuer:         issuer,
		AccessSecret:   accessSecret,
		InternalSecret: internalSecret,
		Location:       location,
		Logger:         logger,
	})

	readyChecks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	mux.HandleFunc("/api/v1/appointments/availability", handler.Slots)
	mux.HandleFunc("/api/v1/appointments/create", handler.Create)
	mux.HandleFunc("/api/v1/appointments/confirm", handler.Confirm)
	mux.HandleFunc("/api/v1/appointments/cancel", handler.Cancel)
	mux.HandleFunc("/api/v1/appointments", handler.List)
	mux.HandleFunc("/api/v1/availability", handler.Windows)
	mux.HandleFunc("/internal/v1/members/cancel-appointments", handler.CancelForMember)

	rateLimit := rateLimitMiddleware(logger)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{AllowedOrigins: []string{config.String("CORS_ALLOWED_ORIGINS", "*")}}),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(30*time.Second),
		rateLimit,
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "scheduling")

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// rateLimitMiddleware prefers the shared Redis counter when REDIS_ADDR is set
// so limits hold across replicas; otherwise it falls back to per-process.
func rateLimitMiddleware(logger *slog.Logger) httpx.Middleware {
	limit := config.Int("RATE_LIMIT_REQUESTS", 120)
	window := config.Duration("RATE_LIMIT_WINDOW_MINUTES", time.Minute)

	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: addr})
		rl := httpx.NewRedisRateLimiter(rdb, limit, window, "scheduling:rl")
		return rl.Middleware(logger, true)
	}
	logger.Warn("REDIS_ADDR not set; using in-process rate limiter")
	return httpx.NewRateLimiter(limit, window).Middleware()
}
