package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/skillvouch/skillvouch/internal/config"
)

const (
	keyVerificationSubmitUser     = "verification:submit:user:%s"
	keyVerificationSubmitEndpoint = "verification:submit:endpoint"
	keyVerificationClaimLock      = "verification:claim:lock:%s"
)

// VerificationSubmitLimiter throttles verification request submissions per
// user and for the endpoint as a whole, and leases reviewer claims so two
// reviewers do not grab the same request at once. A nil limiter (rate
// limiting disabled or redis unconfigured) allows everything.
type VerificationSubmitLimiter struct {
	enabled bool

	bucket *TokenBucket
	locker *Locker

	userRate      float64
	userBurst     int
	endpointRate  float64
	endpointBurst int
	claimLockTTL  time.Duration
}

func NewVerificationSubmitLimiter(cfg config.Config) (*VerificationSubmitLimiter, error) {
	limitCfg := cfg.RateLimit
	if !limitCfg.Enabled {
		return nil, nil
	}

	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("rate limit redis addr is required")
	}
	if limitCfg.SubmitUserRate <= 0 || limitCfg.SubmitUserBurst <= 0 {
		return nil, errors.New("submit user rate limit must be positive")
	}
	if limitCfg.SubmitEndpointRate <= 0 || limitCfg.SubmitEndpointBurst <= 0 {
		return nil, errors.New("submit endpoint rate limit must be positive")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: strings.TrimSpace(cfg.RedisPassword),
		DB:       cfg.RedisDB,
	})

	return &VerificationSubmitLimiter{
		enabled:       true,
		bucket:        NewTokenBucket(client),
		locker:        NewLocker(client),
		userRate:      limitCfg.SubmitUserRate,
		userBurst:     limitCfg.SubmitUserBurst,
		endpointRate:  limitCfg.SubmitEndpointRate,
		endpointBurst: limitCfg.SubmitEndpointBurst,
		claimLockTTL:  time.Duration(limitCfg.ClaimLockTTLSeconds) * time.Second,
	}, nil
}

func (l *VerificationSubmitLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *VerificationSubmitLimiter) AllowUser(ctx context.Context, userID string) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyVerificationSubmitUser, strings.TrimSpace(userID)), l.userRate, l.userBurst)
}

func (l *VerificationSubmitLimiter) AllowEndpoint(ctx context.Context) (*Result, error) {
	if !l.Enabled() {
		return &Result{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyVerificationSubmitEndpoint, l.endpointRate, l.endpointBurst)
}

func (l *VerificationSubmitLimiter) TryClaimLock(ctx context.Context, requestID string) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	key := fmt.Sprintf(keyVerificationClaimLock, strings.TrimSpace(requestID))
	return l.locker.TryLock(ctx, key, l.claimLockTTL)
}

func (l *VerificationSubmitLimiter) ReleaseClaimLock(ctx context.Context, requestID, token string) error {
	if !l.Enabled() {
		return nil
	}
	key := fmt.Sprintf(keyVerificationClaimLock, strings.TrimSpace(requestID))
	return l.locker.Release(ctx, key, token)
}
