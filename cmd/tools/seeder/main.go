// Command seeder provisions a demo merchant for local development. The API
// key and webhook secret it prints match the defaults used by the checkout
// surface and the merchant receiver.
package main

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"log"
	"os"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
)

const (
	demoAPIKey        = "key_test_abc123"
	demoWebhookSecret = "whsec_test_abc123"
	demoWebhookURL    = "http://localhost:4000/webhook"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables")
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open DB: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping DB: %v", err)
	}

	hash := sha256.Sum256([]byte(demoAPIKey))
	keyHash := hex.EncodeToString(hash[:])

	var merchantID string
	err = db.QueryRow(`
		INSERT INTO merchants (name, api_key_hash, webhook_url, webhook_secret)
		VALUES ('Demo Store', $1, $2, $3)
		ON CONFLICT (api_key_hash) DO UPDATE SET
			webhook_url = EXCLUDED.webhook_url,
			webhook_secret = EXCLUDED.webhook_secret
		RETURNING id;
	`, keyHash, demoWebhookURL, demoWebhookSecret).Scan(&merchantID)
	if err != nil {
		log.Fatalf("Failed to seed merchant: %v", err)
	}

	log.Printf("Merchant ID:     %s", merchantID)
	log.Printf("API key:         %s", demoAPIKey)
	log.Printf("Webhook secret:  %s", demoWebhookSecret)
	log.Printf("Webhook URL:     %s", demoWebhookURL)
	log.Println("Seeding completed successfully!")
}
