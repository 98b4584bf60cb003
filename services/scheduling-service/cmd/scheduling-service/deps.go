package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	"github.com/md-rashed-zaman/clinicsched/libs/db"
	"github.com/md-rashed-zaman/clinicsched/libs/token"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/availability"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/calendar"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/channels"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/lock"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/model"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/reminders"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/scheduling"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/storage"
	"github.com/redis/go-redis/v9"
)

func openPool(ctx context.Context) (*db.Pool, error) {
	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		return nil, err
	}
	return db.Open(ctx, dbURL, db.Options{
		MaxConns: int32(config.Int("DB_MAX_CONNS", 10)),
		MinConns: int32(config.Int("DB_MIN_CONNS", 1)),
	})
}

// newRedis returns nil when REDIS_ADDR is unset; callers fall back to
// in-process implementations.
func newRedis() *redis.Client {
	addr := config.String("REDIS_ADDR", "")
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: config.String("REDIS_PASSWORD", ""),
		DB:       config.Int("REDIS_DB", 0),
	})
}

func newLocker(rdb *redis.Client, logger *slog.Logger) lock.Locker {
	if rdb == nil {
		logger.Info("reminder dedup lock is process-local")
		return lock.NewLocal()
	}
	return lock.NewRedis(rdb, config.String("REDIS_LOCK_PREFIX", ""))
}

func newCalendar(logger *slog.Logger) calendar.Provider {
	baseURL := config.String("CALENDAR_BASE_URL", "")
	if baseURL == "" {
		logger.Info("external calendar disabled")
		return calendar.Disabled{}
	}
	return calendar.NewHTTPProvider(calendar.HTTPConfig{
		BaseURL: baseURL,
		Token:   config.String("CALENDAR_TOKEN", ""),
		Timeout: config.Duration("CALENDAR_TIMEOUT", 3*time.Second),
	})
}

// newSenders wires one provider per configured channel. Channels without a
// provider are reported as "channel not configured" by the dispatcher unless
// CHANNELS_NOOP accepts every message instead.
func newSenders(logger *slog.Logger) map[model.Channel]channels.Sender {
	timeout := config.Duration("CHANNEL_SEND_TIMEOUT", 10*time.Second)
	noop := config.Bool("CHANNELS_NOOP", false)
	senders := map[model.Channel]channels.Sender{}

	if url := config.String("MESSAGING_WEBHOOK_URL", ""); url != "" {
		senders[model.ChannelMessaging] = channels.NewWebhookSender(url, config.String("MESSAGING_WEBHOOK_TOKEN", ""), timeout)
	} else if noop {
		senders[model.ChannelMessaging] = channels.NewNoopSender("messaging-noop")
	}
	if host := config.String("SMTP_HOST", ""); host != "" {
		senders[model.ChannelEmail] = channels.NewSMTPSender(host, config.String("SMTP_PORT", "25"), config.String("SMTP_FROM", "reminders@localhost"))
	} else if noop {
		senders[model.ChannelEmail] = channels.NewNoopSender("email-noop")
	}

	for _, ch := range model.Channels {
		if s, ok := senders[ch]; ok {
			logger.Info("reminder channel configured", "channel", ch, "provider", s.ProviderID())
		}
	}
	return senders
}

func newDispatcher(pool *db.Pool, events *outbox.Repository, rdb *redis.Client, logger *slog.Logger) *reminders.Dispatcher {
	return reminders.NewDispatcher(
		storage.NewReminderRepository(pool, events),
		newSenders(logger),
		newLocker(rdb, logger),
		logger,
		reminders.Config{
			ConfirmBaseURL: config.String("CONFIRM_BASE_URL", ""),
			SendTimeout:    config.Duration("CHANNEL_SEND_TIMEOUT", 10*time.Second),
			LockTTL:        config.Duration("REMINDER_LOCK_TTL", 2*time.Minute),
			Concurrency:    config.Int("REMINDER_CONCURRENCY", 4),
			Window:         config.Duration("REMINDER_WINDOW", 30*time.Minute),
		},
	)
}

func newScheduler(pool *db.Pool, events *outbox.Repository, logger *slog.Logger) *scheduling.Service {
	appts := storage.NewAppointmentRepository(pool, events)
	blocks := storage.NewBlockRepository(pool)
	cal := newCalendar(logger)
	guard := availability.NewGuard(blocks, appts, cal, logger, availability.GuardConfig{
		BusyTimeout: config.Duration("CALENDAR_TIMEOUT", 3*time.Second),
	})
	tokens := token.NewSigner(config.String("CONFIRMATION_SECRET", ""), config.Duration("CONFIRMATION_TTL", 7*24*time.Hour))
	if !tokens.Configured() {
		logger.Warn("CONFIRMATION_SECRET not set; confirmation links are disabled")
	}
	return scheduling.NewService(appts, blocks, guard, cal, tokens, logger, scheduling.Config{
		ExportTimeout: config.Duration("CALENDAR_TIMEOUT", 3*time.Second),
	})
}
