// Command keygen issues an API key. The full key is printed once; only
// the bcrypt hash of the secret is persisted.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"

	"github.com/agenttrust/backend/internal/config"
	"github.com/agenttrust/backend/internal/store"
)

func main() {
	name := flag.String("name", "", "human-readable key owner")
	tier := flag.String("tier", "free", "key tier label")
	quota := flag.Int("quota", 1000, "daily request quota")
	flag.Parse()

	if *name == "" {
		log.Fatalf("❌ --name is required")
	}
	if *quota <= 0 {
		log.Fatalf("❌ --quota must be positive")
	}

	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config: %v", err)
	}

	ctx := context.Background()
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ database: %v", err)
	}
	defer db.Close()

	secretBytes := make([]byte, 24)
	if _, err := rand.Read(secretBytes); err != nil {
		log.Fatalf("❌ entropy: %v", err)
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("❌ hash secret: %v", err)
	}

	key := store.APIKey{
		KeyID:      uuid.NewString(),
		KeyHash:    string(hash),
		Name:       *name,
		Tier:       *tier,
		DailyQuota: *quota,
	}
	if err := db.CreateAPIKey(ctx, key); err != nil {
		log.Fatalf("❌ persist key: %v", err)
	}

	log.Printf("✅ API key created for %q (tier %s, %d req/day)", *name, *tier, *quota)
	fmt.Printf("X-API-Key: %s.%s\n", key.KeyID, secret)
	fmt.Println("Store it now; the secret is not recoverable.")
}
