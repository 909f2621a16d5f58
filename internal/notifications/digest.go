package notifications

import (
	"context"
	"fmt"
	"time"

	"convertd/internal/records"
)

// DigestWindow is the period a weekly digest covers.
const DigestWindow = 7 * 24 * time.Hour

// BuildDigest summarises an account's conversions in the window ending at now.
func BuildDigest(ctx context.Context, store *records.Store, accountID string, now time.Time) (WeeklyDigest, error) {
	stats, err := store.Stats(ctx, accountID, now.Add(-DigestWindow))
	if err != nil {
		return WeeklyDigest{}, err
	}
	return WeeklyDigest{
		Total:       stats.Total,
		Succeeded:   stats.Succeeded,
		Failed:      stats.Failed,
		StorageUsed: FormatBytes(stats.StorageUsed),
	}, nil
}

// SendDigest builds the account's digest and enqueues it for recipient.
func SendDigest(ctx context.Context, store *records.Store, enq *Enqueuer, accountID, recipient string, now time.Time) (string, WeeklyDigest, error) {
	digest, err := BuildDigest(ctx, store, accountID, now)
	if err != nil {
		return "", digest, err
	}
	id, err := enq.Enqueue(ctx, recipient, KindWeeklyDigest, digest)
	return id, digest, err
}

// FormatBytes renders a byte count with binary units, e.g. "1.5 MB".
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit && exp < 4; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTP"[exp])
}
