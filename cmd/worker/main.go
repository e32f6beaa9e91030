package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"faris/internal/attendance"
	"faris/internal/config"
	"faris/internal/queue"
	"faris/internal/store"
)

// Worker runs the end-of-day reconciliation on a cron schedule and drains
// the pending manual-edit queue on a short tick.
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

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var pendingQ queue.Queue
	if cfg.PendingBackend == "memory" {
		pendingQ = queue.NewInMemory(256)
	} else {
		pendingQ = queue.NewRedisQueue(redisClient.Client, "faris:pending-edits")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo, attendance.Rules{
		EarlyArrivalMargin:      cfg.EarlyArrivalMargin,
		LateThreshold:           cfg.LateThreshold,
		EarlyDepartureThreshold: cfg.EarlyDepartureThreshold,
		SecondCheckinWindow:     cfg.SecondCheckinWindow,
	})
	drainer := attendance.NewDrainer(svc, pendingQ)

	c := cron.New()
	if _, err := c.AddFunc(cfg.ReconcileCron, func() {
		date := time.Now().Format("2006-01-02")
		updated, err := svc.Reconcile(ctx, date)
		if err != nil {
			log.Printf("reconcile %s failed: %v", date, err)
			return
		}
		log.Printf("reconcile %s: %d records rewritten to %s", date, updated, attendance.StatusUnauthorizedDeparture)
	}); err != nil {
		log.Fatalf("bad reconcile schedule %q: %v", cfg.ReconcileCron, err)
	}
	c.Start()
	defer c.Stop()

	log.Printf("worker started: reconcile at %q, draining edits every %s", cfg.ReconcileCron, cfg.PendingInterval)

	ticker := time.NewTicker(cfg.PendingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			committed, err := drainer.DrainOnce(ctx)
			if err != nil {
				log.Printf("pending drain failed: %v", err)
				continue
			}
			if committed > 0 {
				log.Printf("committed %d pending edits", committed)
			}
		case <-ctx.Done():
			log.Println("worker stopped")
			return
		}
	}
}
