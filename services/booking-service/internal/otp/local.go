package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/md-rashed-zaman/clinicbook/services/booking-service/internal/sms"
)

// Local issues its own codes, keeps them bcrypt-hashed in Redis and delivers them through an SMS sender.
type Local struct {
	rdb         redis.Cmdable
	sender      sms.Sender
	ttl         time.Duration
	maxAttempts int
	generate    func() (string, error)
}

type LocalConfig struct {
	TTL         time.Duration
	MaxAttempts int
}

func NewLocal(rdb redis.Cmdable, sender sms.Sender, cfg LocalConfig) *Local {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	return &Local{rdb: rdb, sender: sender, ttl: cfg.TTL, maxAttempts: cfg.MaxAttempts, generate: sixDigits}
}

func (l *Local) Name() string { return "local" }

const codePrefix = "otp:code:"

func (l *Local) Send(ctx context.Context, phone string) (string, error) {
	code, err := l.generate()
	if err != nil {
		return "", err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	key := codePrefix + phone
	_, err = l.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, "hash", string(hash), "attempts", 0)
		p.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("store otp: %w", err)
	}
	body := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", code, int(l.ttl.Minutes()))
	if err := l.sender.Send(ctx, phone, body); err != nil {
		_ = l.rdb.Del(ctx, key).Err()
		return "", fmt.Errorf("deliver otp via %s: %w", l.sender.ProviderID(), err)
	}
	return "local-" + uuid.NewString(), nil
}

// claimAttempt counts a guess and returns {attempts, hash}, or an empty reply
// when no code is pending. It never recreates an expired key.
var claimAttempt = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
  return {}
end
local n = redis.call("HINCRBY", KEYS[1], "attempts", 1)
return {n, redis.call("HGET", KEYS[1], "hash")}
`)

func (l *Local) Check(ctx context.Context, phone, code string) (bool, error) {
	key := codePrefix + phone
	reply, err := claimAttempt.Run(ctx, l.rdb, []string{key}).Slice()
	if err != nil {
		return false, fmt.Errorf("claim otp attempt: %w", err)
	}
	if len(reply) < 2 {
		return false, nil
	}
	attempts, _ := reply[0].(int64)
	hash, _ := reply[1].(string)
	if attempts > int64(l.maxAttempts) {
		return false, ErrTooManyAttempts
	}

	err = bcrypt.CompareHashAndPassword([]byte(hash), []byte(code))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := l.rdb.Del(ctx, key).Err(); err != nil {
		return false, err
	}
	return true, nil
}

func sixDigits() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
