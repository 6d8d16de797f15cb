// Command api serves the read API over the scored wallet data.
package main

import (
	"context"
	"log"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/agenttrust/backend/internal/api"
	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/store"
)

func main() {
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		log.Fatalf("❌ invalid PORT %q", cfg.Port)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ database: %v", err)
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("⚠️ redis at %s unreachable, quota fast path disabled: %v", cfg.RedisAddr, err)
			rdb = nil
		}
	}

	if err := api.NewServer(db, rdb).Start(port); err != nil {
		log.Fatalf("❌ server: %v", err)
	}
}
