package main

import (
	"context"
	"encoding/json"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"checkin/internal/checkin"
	"checkin/internal/config"
	"checkin/internal/logging"
	"checkin/internal/person"
	"checkin/internal/queue"
	"checkin/internal/store"
)

// Worker consumes check-in completion events: it stamps the label
// print time on the attendance row and flags the person as recently
// active so the next batch load reflects it.
func main() {
	cfg := config.Load()
	logging.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "checkin:events")
	}

	repo := checkin.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	slog.Info("worker started, waiting for completion events")
	for msg := range messages {
		if msg.Type != checkin.EventType {
			continue
		}

		var evt checkin.CompletionEvent
		if err := json.Unmarshal(msg.Body, &evt); err != nil {
			slog.Warn("malformed completion event", "error", err)
			continue
		}

		if err := repo.MarkLabelPrinted(ctx, evt.AttendanceID, time.Now().UTC()); err != nil {
			slog.Warn("label print stamp failed", "attendance_id", evt.AttendanceID, "error", err)
		}

		key := person.ActivityKey(evt.PersonID)
		if err := redisClient.Client.Set(ctx, key, "1", cfg.RecentActivityTTL).Err(); err != nil {
			slog.Warn("recent-activity flag set failed", "person_id", evt.PersonID, "error", err)
		}

		slog.Debug("completion event processed", "attendance_id", evt.AttendanceID)
	}

	slog.Info("worker stopped")
}
