package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"chatcore/backend/internal/broadcast"
	"chatcore/backend/internal/config"
	"chatcore/backend/internal/logging"
	"chatcore/backend/internal/storage"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const usage = `Usage: admin <command> [args]

Commands:
  outbox-list [limit]           show pending broadcast retries
  outbox-drain                  republish due broadcast retries once
  private-room <user> <user>    get or create the private room of two users
  unread <room_id> <user_id>    list messages the user has not read in a room`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logr := logging.New(cfg.LogLevel, "text")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	storageSvc := storage.NewStorageService(db, logr)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	switch os.Args[1] {
	case "outbox-list":
		limit := 50
		if len(os.Args) > 2 {
			limit, err = strconv.Atoi(os.Args[2])
			if err != nil || limit <= 0 {
				fmt.Println("Invalid limit. Please provide a positive integer.")
				os.Exit(1)
			}
		}
		if err := listOutbox(ctx, storageSvc, limit); err != nil {
			log.Fatalf("Error listing outbox: %v", err)
		}
	case "outbox-drain":
		var rdb *redis.Client
		if cfg.BusBackend == "redis" {
			rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
			defer rdb.Close()
		}
		bus, err := broadcast.New(cfg.BusBackend, rdb, logr)
		if err != nil {
			log.Fatalf("Error opening bus: %v", err)
		}
		retrier := broadcast.NewRetrier(storageSvc, bus, broadcast.RetrierConfig{
			BatchSize:   cfg.RetryBatchSize,
			MaxAttempts: cfg.RetryMaxAttempts,
			MaxInterval: cfg.RetryMaxInterval,
		}, logr)
		published, failed, err := retrier.DrainOnce(ctx)
		if err != nil {
			log.Fatalf("Error draining outbox: %v", err)
		}
		fmt.Printf("Republished %d entries, %d still failing.\n", published, failed)
	case "private-room":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin private-room <user_id> <user_id>")
			os.Exit(1)
		}
		room, created, err := storageSvc.GetOrCreatePrivateRoom(ctx, os.Args[2], os.Args[3])
		if err != nil {
			log.Fatalf("Error opening private room: %v", err)
		}
		verb := "Found"
		if created {
			verb = "Created"
		}
		fmt.Printf("%s room %d (%s) for %v.\n", verb, room.ID, room.Name, []string(room.ParticipantIDs))
	case "unread":
		if len(os.Args) != 4 {
			fmt.Println("Usage: admin unread <room_id> <user_id>")
			os.Exit(1)
		}
		roomID, err := strconv.ParseUint(os.Args[2], 10, 64)
		if err != nil {
			fmt.Println("Invalid room ID. Please provide an integer.")
			os.Exit(1)
		}
		if err := listUnread(ctx, storageSvc, uint(roomID), os.Args[3]); err != nil {
			log.Fatalf("Error listing unread messages: %v", err)
		}
	default:
		fmt.Println("Unknown command")
		fmt.Println(usage)
		os.Exit(1)
	}
}

func listOutbox(ctx context.Context, s storage.OutboxStore, limit int) error {
	entries, err := s.ListBroadcastRetries(ctx, limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Outbox is empty.")
		return nil
	}
	for _, e := range entries {
		fmt.Printf("#%d group=%s attempts=%d next=%s error=%q\n",
			e.ID, e.Group, e.Attempts, e.NextAttemptAt.Format(time.RFC3339), e.LastError)
	}
	return nil
}

func listUnread(ctx context.Context, s storage.MessageStore, roomID uint, userID string) error {
	msgs, err := s.ListUnreadFor(ctx, roomID, userID)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("Nothing unread.")
		return nil
	}
	for _, m := range msgs {
		fmt.Printf("#%d %s %s: %s\n", m.ID, m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Text)
	}
	return nil
}
