package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"academyportal/internal/attendance"
	"academyportal/internal/config"
	"academyportal/internal/logging"
	"academyportal/internal/member"
	"academyportal/internal/queue"
	"academyportal/internal/session"
	"academyportal/internal/store"
)

// Worker copies attendance events into the audit table and purges expired
// sessions on a timer.
func main() {
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.Production(), "portal-worker")
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	sessionRepo, err := sessionRepository(cfg.SessionBackend, db.Client, redisClient.Client)
	if err != nil {
		log.Fatal().Err(err).Msg("session backend")
	}
	sessions := session.NewStore(sessionRepo, member.NewRepository(db.Client), cfg.SessionTTL)
	go purgeLoop(ctx, sessions, cfg.SessionPurgeEvery)

	q, err := eventQueue(cfg.QueueBackend, redisClient.Client, cfg.QueueKey)
	if err != nil {
		log.Fatal().Err(err).Msg("queue backend")
	}
	if q == nil {
		log.Info().Msg("attendance events disabled, only purging sessions")
		<-ctx.Done()
		log.Info().Msg("worker stopped")
		return
	}
	if backlog, err := q.Len(ctx); err != nil {
		log.Warn().Err(err).Msg("queue length unavailable")
	} else {
		log.Info().Int64("backlog", backlog).Msg("pending attendance events")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	audit := attendance.NewPostgresAuditLog(db.Client)
	log.Info().Str("queue", cfg.QueueKey).Msg("worker started, waiting for messages")
	for msg := range messages {
		handle(ctx, audit, msg)
	}
	log.Info().Msg("worker stopped")
}

// sessionRepository matches the API's SESSION_BACKEND choice so both
// processes purge the store the API writes to.
func sessionRepository(backend string, db *sql.DB, client *redis.Client) (session.Repository, error) {
	switch backend {
	case "redis":
		// Redis expires sessions itself; the purge becomes a no-op.
		return session.NewRedisRepository(client, ""), nil
	case "postgres", "":
		return session.NewPostgresRepository(db), nil
	default:
		return nil, fmt.Errorf("unknown SESSION_BACKEND %q", backend)
	}
}

// eventQueue returns nil when the API publishes no events.
func eventQueue(backend string, client *redis.Client, key string) (*queue.RedisQueue, error) {
	switch backend {
	case "redis":
		return queue.NewRedisQueue(client, key), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", backend)
	}
}

func handle(ctx context.Context, audit attendance.AuditLog, msg queue.Message) {
	if msg.Type != attendance.EventRecorded {
		log.Debug().Str("type", msg.Type).Msg("ignoring message")
		return
	}
	ev, err := attendance.DecodeEvent(msg.Body)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable attendance event")
		return
	}
	if err := audit.Append(ctx, ev); err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("audit append failed")
		return
	}
	log.Debug().
		Str("event_id", ev.ID).
		Int64("attendance_id", ev.AttendanceID).
		Int64("schedule_id", ev.ScheduleID).
		Int64("member_id", ev.MemberID).
		Msg("attendance event audited")
}

func purgeLoop(ctx context.Context, sessions *session.Store, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := sessions.PurgeExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("session purge failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("purged", n).Msg("expired sessions removed")
			}
		}
	}
}
