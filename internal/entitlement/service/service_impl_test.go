package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/config"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	entitlementrepo "github.com/skillvouch/skillvouch/internal/entitlement/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testPeriodStart = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:entdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	// sqlite serializes writers through a single connection, which is what
	// the guarded increment needs to be exercised under contention.
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&entitlementdomain.Subscription{},
		&entitlementdomain.UsageCounter{},
	))
	return db
}

func newEntitlementService(t *testing.T, db *gorm.DB, now time.Time) entitlementdomain.Service {
	t.Helper()

	return NewService(ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   clock.NewFakeClock(now),
		Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		Repo:    entitlementrepo.Provide(),
	})
}

func seedSubscription(t *testing.T, db *gorm.DB, userID snowflake.ID, planID string) *entitlementdomain.Subscription {
	t.Helper()

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	sub := &entitlementdomain.Subscription{
		ID:                 node.Generate(),
		UserID:             userID,
		PlanID:             planID,
		Status:             entitlementdomain.SubscriptionActive,
		CurrentPeriodStart: testPeriodStart,
		CurrentPeriodEnd:   testPeriodStart.AddDate(0, 1, 0),
		CreatedAt:          testPeriodStart,
		UpdatedAt:          testPeriodStart,
	}
	require.NoError(t, db.Create(sub).Error)
	return sub
}

func seedCounter(t *testing.T, db *gorm.DB, sub *entitlementdomain.Subscription, feature string, count int64) {
	t.Helper()

	require.NoError(t, db.Create(&entitlementdomain.UsageCounter{
		SubscriptionID: sub.ID,
		Feature:        feature,
		PeriodStart:    sub.CurrentPeriodStart,
		Count:          count,
		UpdatedAt:      testPeriodStart,
	}).Error)
}

func TestTryConsume_NoSubscription(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	decision, err := svc.TryConsumeEntitlement(context.Background(), node.Generate(), "job_posting")
	require.NoError(t, err)
	assert.False(t, decision.Covered)
	assert.False(t, decision.WithinLimit)
}

func TestTryConsume_FeatureNotInPlan(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	seedSubscription(t, db, userID, "candidate_plus")

	decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
	require.NoError(t, err)
	assert.False(t, decision.Covered)
	assert.Equal(t, "candidate_plus", decision.PlanID)
}

func TestTryConsume_UnderLimit(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_professional")
	seedCounter(t, db, sub, "job_posting", 28)

	decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
	require.NoError(t, err)
	assert.True(t, decision.Covered)
	assert.True(t, decision.WithinLimit)
	assert.Equal(t, int64(29), decision.Used)
	require.NotNil(t, decision.Limit)
	assert.Equal(t, 30, *decision.Limit)
}

func TestTryConsume_AtLimit(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_professional")
	seedCounter(t, db, sub, "job_posting", 30)

	decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
	require.NoError(t, err)
	assert.True(t, decision.Covered)
	assert.False(t, decision.WithinLimit)
	assert.Equal(t, int64(30), decision.Used)
}

func TestTryConsume_Unlimited(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_enterprise")

	for i := 0; i < 5; i++ {
		decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
		require.NoError(t, err)
		assert.True(t, decision.Covered)
		assert.True(t, decision.WithinLimit)
		assert.Nil(t, decision.Limit)
	}

	// An uncapped grant never touches the ledger.
	var counters int64
	require.NoError(t, db.Model(&entitlementdomain.UsageCounter{}).
		Where("subscription_id = ?", sub.ID).
		Count(&counters).Error)
	assert.Equal(t, int64(0), counters)
}

func TestTryConsume_ExpiredSubscription(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.AddDate(0, 2, 0)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	seedSubscription(t, db, userID, "recruiter_professional")

	decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
	require.NoError(t, err)
	assert.False(t, decision.Covered)
}

// Sixteen goroutines race for the final unit. Exactly one may win.
func TestTryConsume_ContentionOnLastUnit(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_professional")
	seedCounter(t, db, sub, "verification", 9) // limit is 10

	const spenders = 16
	results := make([]entitlementdomain.Decision, spenders)
	errs := make([]error, spenders)

	var wg sync.WaitGroup
	for i := 0; i < spenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.TryConsumeEntitlement(context.Background(), userID, "verification")
		}(i)
	}
	wg.Wait()

	granted := 0
	for i := 0; i < spenders; i++ {
		require.NoError(t, errs[i])
		assert.True(t, results[i].Covered)
		if results[i].WithinLimit {
			granted++
		}
	}
	assert.Equal(t, 1, granted)

	var counter entitlementdomain.UsageCounter
	require.NoError(t, db.Where("subscription_id = ? AND feature = ?", sub.ID, "verification").
		First(&counter).Error)
	assert.Equal(t, int64(10), counter.Count)
}

func TestPeekDoesNotConsume(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_professional")
	seedCounter(t, db, sub, "job_posting", 12)

	for i := 0; i < 3; i++ {
		decision, err := svc.PeekEntitlement(context.Background(), userID, "job_posting")
		require.NoError(t, err)
		assert.True(t, decision.Covered)
		assert.True(t, decision.WithinLimit)
		assert.Equal(t, int64(12), decision.Used)
	}
}

func TestReleaseReturnsUnit(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)
	svc := newEntitlementService(t, db, now)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_professional")
	seedCounter(t, db, sub, "verification", 10)

	decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "verification")
	require.NoError(t, err)
	assert.False(t, decision.WithinLimit)

	require.NoError(t, svc.ReleaseEntitlement(context.Background(), userID, "verification"))

	decision, err = svc.TryConsumeEntitlement(context.Background(), userID, "verification")
	require.NoError(t, err)
	assert.True(t, decision.WithinLimit)
	assert.Equal(t, int64(10), decision.Used)
}

// brokenEntitlementRepo simulates ledger failures at each touch point.
type brokenEntitlementRepo struct {
	entitlementdomain.Repository
	subErr       error
	incrementErr error
}

func (r brokenEntitlementRepo) FindActiveSubscription(ctx context.Context, db *gorm.DB, userID snowflake.ID, at time.Time) (*entitlementdomain.Subscription, error) {
	if r.subErr != nil {
		return nil, r.subErr
	}
	return r.Repository.FindActiveSubscription(ctx, db, userID, at)
}

func (r brokenEntitlementRepo) IncrementWithinLimit(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, feature string, periodStart time.Time, limit int) (bool, error) {
	if r.incrementErr != nil {
		return false, r.incrementErr
	}
	return r.Repository.IncrementWithinLimit(ctx, db, subscriptionID, feature, periodStart, limit)
}

func TestTryConsume_StoreFailureFailsClosed(t *testing.T) {
	db := setupTestDB(t)
	now := testPeriodStart.Add(24 * time.Hour)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()
	sub := seedSubscription(t, db, userID, "recruiter_professional")

	newBroken := func(repo entitlementdomain.Repository) entitlementdomain.Service {
		return NewService(ServiceParam{
			DB:      db,
			Log:     zap.NewNop(),
			Clock:   clock.NewFakeClock(now),
			Billing: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
			Repo:    repo,
		})
	}

	svc := newBroken(brokenEntitlementRepo{Repository: entitlementrepo.Provide(), subErr: errors.New("ledger offline")})
	decision, err := svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
	require.Error(t, err)
	assert.False(t, decision.Covered)

	svc = newBroken(brokenEntitlementRepo{Repository: entitlementrepo.Provide(), incrementErr: errors.New("ledger offline")})
	decision, err = svc.TryConsumeEntitlement(context.Background(), userID, "job_posting")
	require.Error(t, err)
	assert.False(t, decision.WithinLimit)

	// No unit leaked through the failed attempts.
	var counter entitlementdomain.UsageCounter
	err = db.Where("subscription_id = ? AND feature = ?", sub.ID, "job_posting").First(&counter).Error
	if err == nil {
		assert.Equal(t, int64(0), counter.Count)
	}
}
