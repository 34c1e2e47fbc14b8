package counter

import (
	"context"
	"strconv"

	"github.com/quiniela360/backend/internal/pkg/cache"
)

const (
	webhookOutcomesKey = "payments:counters:outcomes"
	creditsGrantedKey  = "payments:counters:credits_granted"
)

// AddOutcome increments the running counter for a settlement outcome in Redis.
// Counters are operational telemetry only; the payments table is the ledger.
func AddOutcome(outcome string) error {
	if outcome == "" {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().HIncrBy(ctx, webhookOutcomesKey, outcome, 1).Err()
}

// AddCreditsGranted adds the credits applied by a settled payment.
func AddCreditsGranted(credits uint) error {
	if credits == 0 {
		return nil
	}
	ctx := context.Background()
	return cache.GetClient().IncrBy(ctx, creditsGrantedKey, int64(credits)).Err()
}

// OutcomeTotals returns the per-outcome counts accumulated so far.
func OutcomeTotals() (map[string]int64, error) {
	ctx := context.Background()
	raw, err := cache.GetClient().HGetAll(ctx, webhookOutcomesKey).Result()
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64, len(raw))
	for outcome, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		totals[outcome] = n
	}
	return totals, nil
}

// CreditsGrantedTotal returns the sum of credits applied by settlements.
func CreditsGrantedTotal() (int64, error) {
	ctx := context.Background()
	v, err := cache.GetClient().Get(ctx, creditsGrantedKey).Result()
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
