package cache

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quiniela360/backend/internal/pkg/env"
	"github.com/redis/go-redis/v9"
)

var (
	client *redis.Client
	ctx    = context.Background()
)

// SettledPaymentTTL bounds how long a settled payment id is remembered in the
// fast path. The payments table stays authoritative; this only spares repeat
// webhook deliveries a gateway round trip.
const SettledPaymentTTL = 24 * time.Hour

// SetupCache initializes the connection to the Redis cache server.
func SetupCache() {
	host := env.GetEnv("CACHE_HOST", "localhost")
	port := env.GetEnv("CACHE_PORT", "6379")

	client = redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", host, port),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		log.Printf("Warning: Could not connect to Redis cache: %v", err)
	}
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// Set stores a value in the cache with the given key and expiration time
func Set(key string, value interface{}, expiration time.Duration) error {
	return GetClient().Set(ctx, key, value, expiration).Err()
}

// Get retrieves a value from the cache by key
func Get(key string) (string, error) {
	return GetClient().Get(ctx, key).Result()
}

// Delete removes a value from the cache by key
func Delete(key string) error {
	return GetClient().Del(ctx, key).Err()
}

func settledPaymentKey(paymentID string) string {
	return "payment:settled:" + paymentID
}

// MarkPaymentSeen records a payment id that has been recorded in the ledger.
// Errors are best effort; callers must not depend on the cache for
// correctness.
func MarkPaymentSeen(paymentID, status string) {
	if paymentID == "" {
		return
	}
	if err := Set(settledPaymentKey(paymentID), status, SettledPaymentTTL); err != nil {
		log.Printf("cache: could not mark payment %s: %v", paymentID, err)
	}
}

// PaymentSeen reports whether a payment id was recently recorded.
func PaymentSeen(paymentID string) bool {
	if paymentID == "" {
		return false
	}
	_, err := Get(settledPaymentKey(paymentID))
	return err == nil
}
