// Package lock serializes money movements across processes with Redis. A
// nil Locker grants every lock, so single-node deployments run without Redis
// and rely on database row locks alone.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/marketledger/internal/apperror"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	keyPayout       = "marketledger:lock:payout:%s"
	keyConfirmation = "marketledger:lock:charge:%s"
	keyRefund       = "marketledger:lock:refund:%s"
	keyJob          = "marketledger:lock:job:%s"
	keyRate         = "marketledger:rate:"
)

var ErrLockHeld = apperror.New(apperror.Conflict, "operation_in_progress")

type Locker struct {
	client *redis.Client
	script *redis.Script
}

func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{
		client: client,
		script: redis.NewScript(releaseScript),
	}
}

// TryLock sets key if absent and returns the token needed to release it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", true, nil
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}
	if ttl <= 0 {
		return "", false, errors.New("lock ttl must be positive")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes key only while it still holds token.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil {
		return nil
	}
	if key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{key}, token).Err()
}

// With runs fn while holding key. A held key fails fast with ErrLockHeld.
func (l *Locker) With(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error {
	token, ok, err := l.TryLock(ctx, key, ttl)
	if err != nil {
		return err
	}
	if !ok {
		return apperror.Wrapf(ErrLockHeld, "lock", "%s", key)
	}
	defer func() {
		// Use a fresh context so a canceled request still frees the key.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = l.Release(releaseCtx, key, token)
	}()
	return fn(ctx)
}

func PayoutKey(practitionerID string) string {
	return fmt.Sprintf(keyPayout, strings.TrimSpace(practitionerID))
}

func ConfirmationKey(chargeRef string) string {
	return fmt.Sprintf(keyConfirmation, strings.TrimSpace(chargeRef))
}

func RefundKey(orderID string) string {
	return fmt.Sprintf(keyRefund, strings.TrimSpace(orderID))
}

func JobKey(job string) string {
	return fmt.Sprintf(keyJob, strings.TrimSpace(job))
}
