package chatclient

import (
	"context"
	"strings"
	"time"
)

const maxRetryAttempts = 3

// retryableSubstrings are the platform error fragments spec §5 calls out
// ("a shared retry helper backs off on 'ratelimited'/'timeout'/..."). A
// real platform error (discordgo/go-telegram/bot) stringifies the HTTP
// status or API error code into its Error() text, so substring matching
// is sufficient without a per-platform typed-error translation layer.
var retryableSubstrings = []string{"ratelimited", "rate limit", "timeout", "timed out", "temporarily unavailable", "service_unavailable", "service unavailable", "too many requests"}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// withRetry runs fn up to maxRetryAttempts times, backing off
// exponentially (250ms, then 500ms) between retryable failures. A
// non-retryable error is returned at once; when the attempts run out, the
// last error is returned even if it is retryable. Cancelling ctx during a
// backoff returns ctx.Err().
func withRetry(ctx context.Context, fn func() error) error {
	backoff := 250 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxRetryAttempts; attempt++ {
		if err = fn(); err == nil || !isRetryable(err) {
			return err
		}
		if attempt == maxRetryAttempts {
			break
		}
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
