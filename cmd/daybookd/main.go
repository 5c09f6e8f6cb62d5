// Command daybookd is the background half of the daybook client: it
// keeps the local cache in sync with the service, renews the session
// token as needed, restores reminder alarms after a restart and ships
// encrypted backups.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dukerupert/daybook/internal/alarm"
	"github.com/dukerupert/daybook/internal/api"
	"github.com/dukerupert/daybook/internal/backup"
	"github.com/dukerupert/daybook/internal/database"
	"github.com/dukerupert/daybook/internal/logging"
	"github.com/dukerupert/daybook/internal/model"
	"github.com/dukerupert/daybook/internal/notify"
	"github.com/dukerupert/daybook/internal/store"
	"github.com/dukerupert/daybook/internal/sync"
)

func main() {
	logger := logging.Setup(os.Getenv("DAYBOOK_LOG_LEVEL"))

	dbPath := envOr("DAYBOOK_DB_PATH", "daybook.db")
	apiURL := envOr("DAYBOOK_API_URL", "https://api.daybook.app")
	apiKey := os.Getenv("DAYBOOK_API_KEY")

	interval := 5 * time.Minute
	if v := os.Getenv("DAYBOOK_SYNC_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Fatalf("invalid DAYBOOK_SYNC_INTERVAL: %v", err)
		}
		interval = d
	}

	db, err := database.Open(dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	items := store.NewItemStore(db)
	creds := store.NewCredentialStore(db)
	pushStore := store.NewPushStore(db)

	client := api.NewClient(apiURL, apiKey, creds)
	notifier := notify.NewPushService(pushStore,
		os.Getenv("DAYBOOK_VAPID_PUBLIC_KEY"),
		os.Getenv("DAYBOOK_VAPID_PRIVATE_KEY"),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sched := alarm.NewTimerScheduler(notifier)
	defer sched.Stop()

	// A deleted item must not ring: disarm its alarm with the deletion.
	items.OnDelete(func(id string, _ model.Kind) {
		if err := sched.Cancel(id); err != nil {
			logger.Warn("cancel alarm for deleted item", "item", id, "error", err)
		}
	})

	restorer := alarm.NewRestorer(items, sched)
	if n, err := restorer.Restore(ctx, time.Now()); err != nil {
		logger.Warn("alarm restore incomplete", "scheduled", n, "error", err)
	} else {
		logger.Info("alarms restored", "scheduled", n)
	}

	engine := sync.NewEngine(items, client)
	trigger := sync.NewTrigger(wsURL(apiURL))
	go trigger.Run(ctx)
	go engine.Run(ctx, interval, trigger.C)

	backupMgr := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  os.Getenv("DAYBOOK_S3_ENDPOINT"),
			Bucket:    os.Getenv("DAYBOOK_S3_BUCKET"),
			Region:    envOr("DAYBOOK_S3_REGION", "auto"),
			AccessKey: os.Getenv("DAYBOOK_S3_ACCESS_KEY"),
			SecretKey: os.Getenv("DAYBOOK_S3_SECRET_KEY"),
		},
		DBPath: dbPath,
	}, db, os.Getenv("DAYBOOK_BACKUP_PASSPHRASE"))
	backupMgr.Start(ctx)
	defer backupMgr.Stop()

	logger.Info("daybookd running", "db", dbPath, "service", apiURL, "sync_interval", interval)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	cancel()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// wsURL derives the change-notification endpoint from the API base URL.
func wsURL(apiURL string) string {
	if v := os.Getenv("DAYBOOK_WS_URL"); v != "" {
		return v
	}
	u := strings.Replace(apiURL, "https://", "wss://", 1)
	u = strings.Replace(u, "http://", "ws://", 1)
	return strings.TrimRight(u, "/") + "/ws/sync"
}
