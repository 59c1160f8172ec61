// Command seed provisions a billing account: one account row, one API
// key and a funded wallet. Account creation is an out-of-band operation
// and never happens through the gateway itself.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/nmelo/metergate/internal/config"
	"github.com/nmelo/metergate/internal/storage"
)

const keyBytes = 24

func main() {
	email := flag.String("email", "", "account email (required)")
	keyName := flag.String("key-name", "Default Key", "display name for the API key")
	balance := flag.String("balance", "10.00", "opening wallet balance in USD")
	flag.Parse()

	if *email == "" {
		log.Fatal("missing required flag: -email")
	}

	openingBalance, err := decimal.NewFromString(*balance)
	if err != nil {
		log.Fatalf("invalid -balance %q: %v", *balance, err)
	}
	if openingBalance.IsNegative() {
		log.Fatal("-balance cannot be negative")
	}

	cfg := config.Load()
	ctx := context.Background()

	pg, err := storage.NewPostgres(ctx, storage.Config{
		DSN:          cfg.Storage.DSN,
		MaxOpenConns: cfg.Storage.MaxOpenConns,
		MaxIdleConns: cfg.Storage.MaxIdleConns,
	})
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer func() { _ = pg.Close() }()

	if err := pg.InitSchema(ctx); err != nil {
		log.Fatalf("failed to initialize schema: %v", err)
	}

	key, err := generateKey()
	if err != nil {
		log.Fatalf("failed to generate API key: %v", err)
	}

	accountID, err := pg.CreateAccount(ctx, *email, *keyName, key, openingBalance)
	if err != nil {
		log.Fatalf("failed to create account: %v", err)
	}

	fmt.Printf("account_id: %s\n", accountID)
	fmt.Printf("api_key:    %s\n", key)
	fmt.Printf("balance:    $%s\n", openingBalance.StringFixed(4))
}

// generateKey produces an API key with a recognizable prefix and 192
// bits of randomness.
func generateKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "mg-" + hex.EncodeToString(buf), nil
}
