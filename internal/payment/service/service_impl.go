package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	"github.com/skillvouch/skillvouch/internal/clock"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	obsmetrics "github.com/skillvouch/skillvouch/internal/observability/metrics"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	"github.com/skillvouch/skillvouch/pkg/db"
	"github.com/skillvouch/skillvouch/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB             *gorm.DB
	Log            *zap.Logger
	Clock          clock.Clock
	GenID          *snowflake.Node
	BillingSvc     billingdomain.Service
	EntitlementSvc entitlementdomain.Service `optional:"true"`
	AuditSvc       auditdomain.Service       `optional:"true"`
	ObsMetrics     *obsmetrics.Metrics       `optional:"true"`
}

type Service struct {
	db             *gorm.DB
	log            *zap.Logger
	clock          clock.Clock
	genID          *snowflake.Node
	intents        repository.Repository[paymentdomain.PaymentIntent]
	billingSvc     billingdomain.Service
	entitlementSvc entitlementdomain.Service
	auditSvc       auditdomain.Service
	obsMetrics     *obsmetrics.Metrics
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:             p.DB,
		log:            p.Log.Named("payment.service"),
		clock:          p.Clock,
		genID:          p.GenID,
		intents:        repository.ProvideStore[paymentdomain.PaymentIntent](p.DB),
		billingSvc:     p.BillingSvc,
		entitlementSvc: p.EntitlementSvc,
		auditSvc:       p.AuditSvc,
		obsMetrics:     p.ObsMetrics,
	}
}

func (s *Service) CreateObligation(ctx context.Context, userID snowflake.ID, actionType billingdomain.ActionType) (*paymentdomain.PaymentIntent, error) {
	if userID == 0 {
		return nil, paymentdomain.ErrInvalidUser
	}
	if !billingdomain.KnownAction(actionType) {
		return nil, paymentdomain.ErrInvalidAction
	}

	quote, err := s.billingSvc.ResolveFee(ctx, userID, actionType)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	intent := &paymentdomain.PaymentIntent{
		ID:         s.genID.Generate(),
		Reference:  "pay_" + ulid.Make().String(),
		UserID:     userID,
		ActionType: actionType,
		Amount:     quote.FinalAmount,
		Currency:   quote.Currency,
		Status:     paymentdomain.IntentPending,
		Adjustment: string(quote.Adjustment),
		CreatedAt:  now,
	}

	// A subscription that covers the action settles the obligation on the
	// spot: the zero-amount completed intent is the entitlement receipt.
	if s.consumeEntitlement(ctx, userID, actionType) {
		intent.Amount = 0
		intent.Adjustment = "entitlement"
	}
	if intent.Amount == 0 {
		intent.Status = paymentdomain.IntentCompleted
		intent.CompletedAt = &now
	}

	if err := s.intents.Create(ctx, intent); err != nil {
		return nil, err
	}

	s.recordEvent(ctx, string(actionType), string(intent.Status))
	s.audit(ctx, userID, "payment.obligation_created", intent.Reference, map[string]any{
		"action_type": string(actionType),
		"amount":      intent.Amount,
		"adjustment":  intent.Adjustment,
	})
	return intent, nil
}

// consumeEntitlement reports whether the user's subscription absorbed the
// action. Exhausted or missing coverage falls back to the fee path, as does
// a ledger failure: the gate fails closed and the user pays instead.
func (s *Service) consumeEntitlement(ctx context.Context, userID snowflake.ID, actionType billingdomain.ActionType) bool {
	if s.entitlementSvc == nil {
		return false
	}
	decision, err := s.entitlementSvc.TryConsumeEntitlement(ctx, userID, string(actionType))
	if err != nil {
		s.log.Warn("entitlement check failed, falling back to fee",
			zap.String("user_id", userID.String()),
			zap.String("action_type", string(actionType)),
			zap.Error(err),
		)
		return false
	}
	return decision.Covered && decision.WithinLimit
}

// ConsumeObligation stamps consumed_at behind a status predicate, so two
// submissions racing on one reference cannot both spend it.
func (s *Service) ConsumeObligation(ctx context.Context, tx *gorm.DB, userID snowflake.ID, actionType billingdomain.ActionType, reference string) error {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return paymentdomain.ErrUnknownPayment
	}
	if userID == 0 {
		return paymentdomain.ErrInvalidUser
	}

	res := tx.WithContext(ctx).
		Model(&paymentdomain.PaymentIntent{}).
		Where("reference = ? AND user_id = ? AND action_type = ? AND status = ? AND consumed_at IS NULL",
			reference, userID, actionType, paymentdomain.IntentCompleted).
		Update("consumed_at", s.clock.Now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}

	var intent paymentdomain.PaymentIntent
	err := tx.WithContext(ctx).Where("reference = ?", reference).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return paymentdomain.ErrUnknownPayment
		}
		return err
	}
	switch {
	case intent.UserID != userID || intent.ActionType != actionType:
		return paymentdomain.ErrUnknownPayment
	case intent.ConsumedAt != nil:
		return paymentdomain.ErrPaymentConsumed
	default:
		return paymentdomain.ErrPaymentPending
	}
}

// HandleCompletion settles exactly once. The guarded UPDATE only matches a
// pending row, so a redelivered event finds nothing to change and the
// already-settled intent is returned as-is.
func (s *Service) HandleCompletion(ctx context.Context, event paymentdomain.CompletionEvent) (*paymentdomain.PaymentIntent, error) {
	reference := strings.TrimSpace(event.Reference)
	providerID := strings.TrimSpace(event.ProviderPaymentID)
	if reference == "" || providerID == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	intent, err := s.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}

	target := paymentdomain.IntentCompleted
	if !event.Succeeded {
		target = paymentdomain.IntentFailed
	}

	now := s.clock.Now()
	res := s.db.WithContext(ctx).
		Model(&paymentdomain.PaymentIntent{}).
		Where("reference = ? AND status = ?", reference, paymentdomain.IntentPending).
		Updates(map[string]interface{}{
			"status":              target,
			"provider_payment_id": providerID,
			"completed_at":        now,
		})
	if res.Error != nil {
		// The unique index on provider_payment_id fires when the provider
		// replays one charge under a fresh reference.
		if db.IsDuplicateKeyErr(res.Error) {
			s.log.Warn("provider payment already settled another intent",
				zap.String("reference", reference),
				zap.String("provider_payment_id", providerID),
			)
			return nil, paymentdomain.ErrInvalidEvent
		}
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Duplicate delivery. Log and hand back the settled row.
		s.log.Info("payment completion redelivered",
			zap.String("reference", reference),
			zap.String("provider_payment_id", providerID),
			zap.String("status", string(intent.Status)),
		)
		s.recordEvent(ctx, string(intent.ActionType), "duplicate")
		return intent, nil
	}

	intent.Status = target
	intent.ProviderPaymentID = &providerID
	intent.CompletedAt = &now
	s.recordEvent(ctx, string(intent.ActionType), string(target))
	s.audit(ctx, intent.UserID, "payment.completed", reference, map[string]any{
		"provider_payment_id": providerID,
		"status":              string(target),
	})
	return intent, nil
}

func (s *Service) GetByReference(ctx context.Context, reference string) (*paymentdomain.PaymentIntent, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}
	intent, err := s.intents.FindOne(ctx, &paymentdomain.PaymentIntent{Reference: reference})
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, paymentdomain.ErrUnknownPayment
	}
	return intent, nil
}

func (s *Service) recordEvent(ctx context.Context, actionType, outcome string) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordPaymentEvent(ctx, actionType, outcome)
}

func (s *Service) audit(ctx context.Context, userID snowflake.ID, action, reference string, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := userID.String()
	_ = s.auditSvc.AuditLog(ctx, "user", &actorID, action, "payment_intent", &reference, metadata)
}
