package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	billingrepo "github.com/skillvouch/skillvouch/internal/billing/repository"
	billingservice "github.com/skillvouch/skillvouch/internal/billing/service"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/config"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	entitlementrepo "github.com/skillvouch/skillvouch/internal/entitlement/repository"
	entitlementservice "github.com/skillvouch/skillvouch/internal/entitlement/service"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:paydb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&billingdomain.Promotion{},
		&billingdomain.UserBillingProfile{},
		&paymentdomain.PaymentIntent{},
	))
	return db
}

func newPaymentService(t *testing.T, db *gorm.DB) paymentdomain.Service {
	t.Helper()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(now)
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	billingSvc := billingservice.NewService(billingservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fake,
		Billing: holder,
		Repo:    billingrepo.Provide(),
	})

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		Clock:      fake,
		GenID:      node,
		BillingSvc: billingSvc,
	})
}

func TestCreateObligation(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	intent, err := svc.CreateObligation(context.Background(), node.Generate(), billingdomain.ActionVerification)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentPending, intent.Status)
	assert.Equal(t, int64(1500), intent.Amount)
	assert.NotEmpty(t, intent.Reference)
	assert.Nil(t, intent.CompletedAt)
}

func TestCreateObligation_ZeroFeeCompletesImmediately(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()

	// Admin role overrides every fee to zero.
	require.NoError(t, db.Create(&billingdomain.UserBillingProfile{
		UserID: userID,
		Role:   "admin",
	}).Error)

	intent, err := svc.CreateObligation(context.Background(), userID, billingdomain.ActionJobPosting)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentCompleted, intent.Status)
	assert.Equal(t, int64(0), intent.Amount)
	require.NotNil(t, intent.CompletedAt)
}

func TestHandleCompletion_DuplicateDelivery(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	intent, err := svc.CreateObligation(context.Background(), node.Generate(), billingdomain.ActionVerification)
	require.NoError(t, err)

	event := paymentdomain.CompletionEvent{
		Reference:         intent.Reference,
		ProviderPaymentID: "prov_abc123",
		Succeeded:         true,
	}

	first, err := svc.HandleCompletion(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentCompleted, first.Status)

	// Redelivery settles nothing further.
	second, err := svc.HandleCompletion(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentCompleted, second.Status)
	require.NotNil(t, second.CompletedAt)
	assert.Equal(t, first.CompletedAt.UTC(), second.CompletedAt.UTC())

	var count int64
	require.NoError(t, db.Model(&paymentdomain.PaymentIntent{}).
		Where("reference = ?", intent.Reference).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestHandleCompletion_Failure(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	intent, err := svc.CreateObligation(context.Background(), node.Generate(), billingdomain.ActionVerification)
	require.NoError(t, err)

	settled, err := svc.HandleCompletion(context.Background(), paymentdomain.CompletionEvent{
		Reference:         intent.Reference,
		ProviderPaymentID: "prov_failed",
		Succeeded:         false,
	})
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentFailed, settled.Status)
}

func TestHandleCompletion_UnknownReference(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	_, err := svc.HandleCompletion(context.Background(), paymentdomain.CompletionEvent{
		Reference:         "pay_nonexistent",
		ProviderPaymentID: "prov_x",
		Succeeded:         true,
	})
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownPayment)
}

func TestConsumeObligation_SingleUse(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()

	intent, err := svc.CreateObligation(context.Background(), userID, billingdomain.ActionVerification)
	require.NoError(t, err)
	_, err = svc.HandleCompletion(context.Background(), paymentdomain.CompletionEvent{
		Reference:         intent.Reference,
		ProviderPaymentID: "prov_fund1",
		Succeeded:         true,
	})
	require.NoError(t, err)

	require.NoError(t, svc.ConsumeObligation(context.Background(), db, userID, billingdomain.ActionVerification, intent.Reference))

	var stored paymentdomain.PaymentIntent
	require.NoError(t, db.Where("reference = ?", intent.Reference).First(&stored).Error)
	require.NotNil(t, stored.ConsumedAt)

	err = svc.ConsumeObligation(context.Background(), db, userID, billingdomain.ActionVerification, intent.Reference)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentConsumed)
}

func TestConsumeObligation_PendingIntent(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	userID := node.Generate()

	intent, err := svc.CreateObligation(context.Background(), userID, billingdomain.ActionVerification)
	require.NoError(t, err)

	err = svc.ConsumeObligation(context.Background(), db, userID, billingdomain.ActionVerification, intent.Reference)
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentPending)
}

func TestConsumeObligation_RejectsForeignReference(t *testing.T) {
	db := setupTestDB(t)
	svc := newPaymentService(t, db)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	owner := node.Generate()
	stranger := node.Generate()

	intent, err := svc.CreateObligation(context.Background(), owner, billingdomain.ActionVerification)
	require.NoError(t, err)
	_, err = svc.HandleCompletion(context.Background(), paymentdomain.CompletionEvent{
		Reference:         intent.Reference,
		ProviderPaymentID: "prov_fund2",
		Succeeded:         true,
	})
	require.NoError(t, err)

	err = svc.ConsumeObligation(context.Background(), db, stranger, billingdomain.ActionVerification, intent.Reference)
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownPayment)

	// Completed for job_posting cannot fund a verification.
	err = svc.ConsumeObligation(context.Background(), db, owner, billingdomain.ActionJobPosting, intent.Reference)
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownPayment)

	err = svc.ConsumeObligation(context.Background(), db, owner, billingdomain.ActionVerification, "pay_made_up")
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownPayment)
}

func TestCreateObligation_EntitlementCoversAction(t *testing.T) {
	db := setupTestDB(t)

	require.NoError(t, db.AutoMigrate(
		&entitlementdomain.Subscription{},
		&entitlementdomain.UsageCounter{},
	))

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.NewFakeClock(now)
	holder := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	billingSvc := billingservice.NewService(billingservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fake,
		Billing: holder,
		Repo:    billingrepo.Provide(),
	})
	entitlementSvc := entitlementservice.NewService(entitlementservice.ServiceParam{
		DB:      db,
		Log:     zap.NewNop(),
		Clock:   fake,
		Billing: holder,
		Repo:    entitlementrepo.Provide(),
	})

	node, err := snowflake.NewNode(4)
	require.NoError(t, err)
	svc := NewService(ServiceParam{
		DB:             db,
		Log:            zap.NewNop(),
		Clock:          fake,
		GenID:          node,
		BillingSvc:     billingSvc,
		EntitlementSvc: entitlementSvc,
	})

	userID := node.Generate()
	require.NoError(t, db.Create(&entitlementdomain.Subscription{
		ID:                 node.Generate(),
		UserID:             userID,
		PlanID:             "candidate_plus",
		Status:             entitlementdomain.SubscriptionActive,
		CurrentPeriodStart: now.AddDate(0, 0, -1),
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
		CreatedAt:          now,
		UpdatedAt:          now,
	}).Error)

	intent, err := svc.CreateObligation(context.Background(), userID, billingdomain.ActionVerification)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.IntentCompleted, intent.Status)
	assert.Equal(t, int64(0), intent.Amount)
	assert.Equal(t, "entitlement", intent.Adjustment)
	require.NotNil(t, intent.CompletedAt)

	// The completed receipt is immediately spendable.
	require.NoError(t, svc.ConsumeObligation(context.Background(), db, userID, billingdomain.ActionVerification, intent.Reference))
}
