package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"academyportal/internal/attendance"
	"academyportal/internal/authz"
	"academyportal/internal/checkin"
	"academyportal/internal/config"
	"academyportal/internal/httpapi"
	"academyportal/internal/httpmiddleware"
	"academyportal/internal/logging"
	"academyportal/internal/member"
	"academyportal/internal/queue"
	"academyportal/internal/schedule"
	"academyportal/internal/session"
	"academyportal/internal/store"
)

func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Production(), "portal-api")

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if db == nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	if err != nil {
		return fmt.Errorf("database not reachable: %w", err)
	}
	if cfg.MigrateOnStart {
		if err := store.Migrate(db.Client); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		log.Info().Msg("schema up to date")
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	redisUp := redisClient.Healthy(ctx)
	if !redisUp {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable at startup")
	}

	var sessionRepo session.Repository
	switch cfg.SessionBackend {
	case "redis":
		sessionRepo = session.NewRedisRepository(redisClient.Client, "")
	case "postgres", "":
		sessionRepo = session.NewPostgresRepository(db.Client)
	default:
		return fmt.Errorf("unknown SESSION_BACKEND %q", cfg.SessionBackend)
	}

	var events queue.Publisher
	switch cfg.QueueBackend {
	case "redis":
		events = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	case "none", "":
		log.Info().Msg("attendance events disabled")
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	limiter, err := httpmiddleware.NewLimiter(cfg.RateLimitBackend, cfg.RateLimitPerMin, redisClient.Client, redisUp)
	if err != nil {
		return err
	}

	dir := member.NewRepository(db.Client)
	sessions := session.NewStore(sessionRepo, dir, cfg.SessionTTL)
	codec := checkin.NewCodec(cfg.CheckinWindow, cfg.CheckinSigningKey, cfg.CheckinIssuer)
	svc := checkin.NewService(
		codec,
		authz.NewGuard(schedule.NewRepository(db.Client)),
		attendance.NewRecorder(attendance.NewPostgresRepository(db.Client)),
		events,
		cfg.PublicBaseURL,
	)

	router := httpapi.NewRouter(httpapi.Deps{
		Sessions:  sessions,
		Checkin:   svc,
		Directory: dir,
		Cookie: httpapi.CookieConfig{
			Name:   cfg.SessionCookieName,
			Secure: cfg.Production(),
			MaxAge: sessions.Lifetime(),
		},
		Limiter:     limiter,
		CORSOrigins: cfg.CORSOrigins,
		Health: map[string]httpapi.HealthCheck{
			"db":    db.Healthy,
			"redis": redisClient.Healthy,
		},
		Production: cfg.Production(),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("port", cfg.HTTPPort).
			Str("sessions", cfg.SessionBackend).
			Bool("signed_tokens", codec.Signed()).
			Dur("checkin_window", codec.Window()).
			Str("rate_limit", cfg.RateLimitBackend).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}
