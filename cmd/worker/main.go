package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"startrak/internal/activity"
	"startrak/internal/audit"
	"startrak/internal/config"
	"startrak/internal/queue"
	"startrak/internal/store"
)

// Worker drains scan outcomes from the queue, writes the audit trail, and
// fans entries out to the dashboard activity feed. The scan path never
// waits on any of this.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	var auditLog *audit.Log
	if cfg.StoreBackend != "memory" {
		db, err := store.NewDB(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connect failed: %v", err)
		}
		defer db.Close()
		auditLog = audit.NewLog(db.Client)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	feed := activity.NewFeed(redisClient.Client, "startrak:activity", cfg.NotifyChannel, cfg.ActivityLimit)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "startrak:scans")
	}

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for scan events...")
	for msg := range messages {
		if msg.Type != "checkin" && msg.Type != "checkout" {
			continue
		}

		entry := activity.Entry{
			Kind:        msg.Type,
			Outcome:     msg.Outcome,
			StudentName: msg.StudentName,
			StudentCode: msg.StudentCode,
			ParentName:  msg.ParentName,
			Message:     msg.Detail,
			At:          msg.At,
		}
		if err := feed.Append(ctx, entry); err != nil {
			log.Printf("activity append failed: %v", err)
		}
		if err := feed.Notify(ctx, entry); err != nil {
			log.Printf("notify publish failed: %v", err)
		}

		if auditLog != nil {
			actor := "scanner"
			if msg.ParentName != "" {
				actor = "parent:" + msg.ParentName
			}
			if err := auditLog.Record(ctx, actor, msg.Type, msg.RecordID, msg.Detail); err != nil {
				log.Printf("audit write failed for %s: %v", msg.RecordID, err)
			}
		}
	}

	log.Println("worker stopped")
}
