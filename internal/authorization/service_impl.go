package authorization

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	"github.com/skillvouch/skillvouch/internal/identity"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectCredential          = "credential"
	ObjectVerificationRequest = "verification_request"
	ObjectPromotion           = "promotion"
	ObjectAuditLog            = "audit_log"
	ObjectEntitlement         = "entitlement"
)

const (
	ActionCredentialSubmit = "credential.submit"

	ActionVerificationSubmit = "verification.submit"
	ActionVerificationReview = "verification.review"
	ActionVerificationDecide = "verification.decide"
	ActionVerificationCancel = "verification.cancel"
	ActionVerificationView   = "verification.view"

	ActionPromotionManage = "promotion.manage"

	ActionAuditLogView = "audit_log.view"

	ActionEntitlementView = "entitlement.view"
)

var (
	ErrInvalidActor  = errors.New("invalid_actor")
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)

type Service interface {
	// Authorize checks whether the actor may perform the action on the
	// object class. Denials are recorded in the audit log.
	Authorize(ctx context.Context, actor identity.Actor, object string, action string) error
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
	AuditSvc auditdomain.Service `optional:"true"`
}

type ServiceImpl struct {
	db       *gorm.DB
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
	auditSvc auditdomain.Service
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	enforcer.BuildRoleLinks()
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		db:       p.DB,
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
		auditSvc: p.AuditSvc,
	}
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor identity.Actor, object string, action string) error {
	if actor.UserID == 0 {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	subject := fmt.Sprintf("user:%s", actor.UserID.String())
	roleName := fmt.Sprintf("role:%s", identity.NormalizeRole(actor.Role))
	if err := s.ensureGrouping(subject, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(subject, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.auditDenied(ctx, actor, object, action)
		return ErrForbidden
	}

	if shouldAuditGrant(action) {
		s.auditGranted(ctx, actor, object, action)
	}
	return nil
}

// ensureGrouping keeps the enforcer's subject-to-role link in step with the
// role carried by the request. A user whose role changed drops the stale
// link before the fresh one is added.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func (s *ServiceImpl) auditDenied(ctx context.Context, actor identity.Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	actorID := actor.UserID.String()
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, "user", &actorID, "authorization.denied", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   actor.Role,
	})
}

func (s *ServiceImpl) auditGranted(ctx context.Context, actor identity.Actor, object string, action string) {
	if s.auditSvc == nil {
		return
	}
	actorID := actor.UserID.String()
	targetID := "capability"
	_ = s.auditSvc.AuditLog(ctx, "user", &actorID, "authorization.granted", "authorization", &targetID, map[string]any{
		"object": object,
		"action": action,
		"role":   actor.Role,
	})
}

func shouldAuditGrant(action string) bool {
	switch action {
	case ActionVerificationDecide, ActionPromotionManage:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Members submit credentials and follow their own requests.
		{"role:member", ObjectCredential, ActionCredentialSubmit},
		{"role:member", ObjectVerificationRequest, ActionVerificationSubmit},
		{"role:member", ObjectVerificationRequest, ActionVerificationCancel},
		{"role:member", ObjectVerificationRequest, ActionVerificationView},
		{"role:member", ObjectEntitlement, ActionEntitlementView},

		// Recruiters hold member rights plus paid-surface visibility.
		{"role:recruiter", ObjectCredential, ActionCredentialSubmit},
		{"role:recruiter", ObjectVerificationRequest, ActionVerificationSubmit},
		{"role:recruiter", ObjectVerificationRequest, ActionVerificationCancel},
		{"role:recruiter", ObjectVerificationRequest, ActionVerificationView},
		{"role:recruiter", ObjectEntitlement, ActionEntitlementView},

		// Verifiers work the review queue.
		{"role:verifier", ObjectVerificationRequest, ActionVerificationReview},
		{"role:verifier", ObjectVerificationRequest, ActionVerificationDecide},
		{"role:verifier", ObjectVerificationRequest, ActionVerificationView},

		// Admins hold every capability.
		{"role:admin", ObjectCredential, ActionCredentialSubmit},
		{"role:admin", ObjectVerificationRequest, ActionVerificationSubmit},
		{"role:admin", ObjectVerificationRequest, ActionVerificationReview},
		{"role:admin", ObjectVerificationRequest, ActionVerificationDecide},
		{"role:admin", ObjectVerificationRequest, ActionVerificationCancel},
		{"role:admin", ObjectVerificationRequest, ActionVerificationView},
		{"role:admin", ObjectPromotion, ActionPromotionManage},
		{"role:admin", ObjectAuditLog, ActionAuditLogView},
		{"role:admin", ObjectEntitlement, ActionEntitlementView},

		// Partners and early adopters act as members on this surface.
		{"role:partner", ObjectCredential, ActionCredentialSubmit},
		{"role:partner", ObjectVerificationRequest, ActionVerificationSubmit},
		{"role:partner", ObjectVerificationRequest, ActionVerificationCancel},
		{"role:partner", ObjectVerificationRequest, ActionVerificationView},
		{"role:partner", ObjectEntitlement, ActionEntitlementView},

		{"role:early_adopter", ObjectCredential, ActionCredentialSubmit},
		{"role:early_adopter", ObjectVerificationRequest, ActionVerificationSubmit},
		{"role:early_adopter", ObjectVerificationRequest, ActionVerificationCancel},
		{"role:early_adopter", ObjectVerificationRequest, ActionVerificationView},
		{"role:early_adopter", ObjectEntitlement, ActionEntitlementView},
	}

	for _, policy := range policies {
		if len(policy) < 3 {
			continue
		}
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}
	return nil
}
