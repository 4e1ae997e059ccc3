package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/identity"
	obsmetrics "github.com/skillvouch/skillvouch/internal/observability/metrics"
	"github.com/skillvouch/skillvouch/internal/ratelimit"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	pkglog "github.com/skillvouch/skillvouch/pkg/log"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	GenID      *snowflake.Node
	Repo       verificationdomain.Repository
	Attestor   Attestor
	Funding    verificationdomain.FundingGate
	AuditSvc   auditdomain.Service                  `optional:"true"`
	Limiter    *ratelimit.VerificationSubmitLimiter `optional:"true"`
	ObsMetrics *obsmetrics.Metrics                  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	clock      clock.Clock
	genID      *snowflake.Node
	repo       verificationdomain.Repository
	attestor   Attestor
	funding    verificationdomain.FundingGate
	auditSvc   auditdomain.Service
	limiter    *ratelimit.VerificationSubmitLimiter
	obsMetrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) verificationdomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("verification.service"),
		clock:      p.Clock,
		genID:      p.GenID,
		repo:       p.Repo,
		attestor:   p.Attestor,
		funding:    p.Funding,
		auditSvc:   p.AuditSvc,
		limiter:    p.Limiter,
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) CreateCredential(ctx context.Context, actor identity.Actor, req verificationdomain.CreateCredentialRequest) (*verificationdomain.Credential, error) {
	if actor.UserID == 0 {
		return nil, verificationdomain.ErrInvalidActor
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, verificationdomain.ErrInvalidCredential
	}
	switch req.Kind {
	case verificationdomain.CredentialEducation,
		verificationdomain.CredentialEmployment,
		verificationdomain.CredentialSkill,
		verificationdomain.CredentialLicense:
	default:
		return nil, verificationdomain.ErrInvalidCredential
	}

	now := s.clock.Now()
	credential := &verificationdomain.Credential{
		ID:          s.genID.Generate(),
		OwnerID:     actor.UserID,
		Kind:        req.Kind,
		Title:       title,
		Slug:        slug.Make(title),
		Issuer:      strings.TrimSpace(req.Issuer),
		Description: strings.TrimSpace(req.Description),
		Status:      verificationdomain.CredentialDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateCredential(ctx, s.db, credential); err != nil {
		return nil, err
	}
	return credential, nil
}

func (s *Service) SubmitRequest(ctx context.Context, actor identity.Actor, input verificationdomain.SubmitRequestInput) (*verificationdomain.VerificationRequest, error) {
	if actor.UserID == 0 {
		return nil, verificationdomain.ErrInvalidActor
	}
	if input.CredentialID == 0 {
		return nil, verificationdomain.ErrInvalidRequest
	}
	billingRef := strings.TrimSpace(input.BillingRef)
	if billingRef == "" {
		return nil, verificationdomain.ErrNotFunded
	}

	credential, err := s.repo.FindCredential(ctx, s.db, input.CredentialID)
	if err != nil {
		return nil, err
	}
	if credential == nil {
		return nil, verificationdomain.ErrCredentialNotFound
	}
	if credential.OwnerID != actor.UserID {
		return nil, verificationdomain.ErrNotOwner
	}
	switch credential.Status {
	case verificationdomain.CredentialVerified, verificationdomain.CredentialRejected:
		// Decided credentials stay decided. Re-verification starts over
		// with a new credential.
		return nil, verificationdomain.ErrCredentialDecided
	case verificationdomain.CredentialPending, verificationdomain.CredentialInProgress:
		return nil, verificationdomain.ErrAlreadyOpen
	}

	open, err := s.repo.FindOpenRequestForCredential(ctx, s.db, input.CredentialID)
	if err != nil {
		return nil, err
	}
	if open != nil {
		return nil, verificationdomain.ErrAlreadyOpen
	}

	now := s.clock.Now()
	request := &verificationdomain.VerificationRequest{
		ID:           s.genID.Generate(),
		CredentialID: input.CredentialID,
		RequesterID:  actor.UserID,
		Status:       verificationdomain.StatusDraft,
		BillingRef:   &billingRef,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// One transaction covers the funding spend, the request birth, and the
	// draft -> pending promotion: the timeline always shows the submit
	// edge, and a reference that fails to spend leaves nothing behind.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.funding.ConsumeFunding(ctx, tx, actor.UserID, billingRef); err != nil {
			return err
		}
		if err := s.repo.CreateRequest(ctx, tx, request); err != nil {
			return err
		}
		applied, err := s.repo.TransitionStatus(ctx, tx, request.ID, verificationdomain.StatusDraft, map[string]interface{}{
			"status":       verificationdomain.StatusPending,
			"submitted_at": now,
			"updated_at":   now,
		})
		if err != nil {
			return err
		}
		if !applied {
			return &verificationdomain.ConflictError{
				RequestID: request.ID,
				Current:   request.Status,
				Attempted: verificationdomain.StatusPending,
			}
		}
		if err := s.repo.UpdateCredentialProjection(ctx, tx, credential.ID, verificationdomain.CredentialProjection{
			Status: verificationdomain.CredentialPending,
		}); err != nil {
			return err
		}
		actorID := actor.UserID.String()
		return s.repo.AppendTimeline(ctx, tx, &verificationdomain.TimelineEntry{
			ID:         s.genID.Generate(),
			RequestID:  request.ID,
			FromStatus: verificationdomain.StatusDraft,
			ToStatus:   verificationdomain.StatusPending,
			ActorType:  "user",
			ActorID:    &actorID,
			Metadata:   datatypes.JSONMap{"billing_ref": billingRef},
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = verificationdomain.StatusPending
	request.SubmittedAt = &now
	s.recordTransition(ctx, verificationdomain.StatusDraft, verificationdomain.StatusPending)
	s.audit(ctx, actor, "verification.submitted", request.ID, map[string]any{
		"credential_id": request.CredentialID.String(),
		"billing_ref":   billingRef,
	})
	return request, nil
}

func (s *Service) ClaimReview(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*verificationdomain.VerificationRequest, error) {
	if !actor.CanReview() {
		return nil, verificationdomain.ErrInvalidActor
	}
	request, err := s.repo.FindRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, verificationdomain.ErrRequestNotFound
	}
	if request.RequesterID == actor.UserID {
		return nil, verificationdomain.ErrSelfReview
	}

	if s.limiter.Enabled() {
		token, ok, err := s.limiter.TryClaimLock(ctx, requestID.String())
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &verificationdomain.ConflictError{
				RequestID: requestID,
				Current:   request.Status,
				Attempted: verificationdomain.StatusInProgress,
			}
		}
		defer func() {
			_ = s.limiter.ReleaseClaimLock(ctx, requestID.String(), token)
		}()
	}

	now := s.clock.Now()
	err = s.db.Transaction(func(tx *gorm.DB) error {
		err := s.applyTransition(ctx, tx, request, verificationdomain.StatusPending, verificationdomain.StatusInProgress, actor, nil, map[string]interface{}{
			"status":      verificationdomain.StatusInProgress,
			"reviewer_id": actor.UserID,
			"updated_at":  now,
		})
		if err != nil {
			return err
		}
		return s.repo.UpdateCredentialProjection(ctx, tx, request.CredentialID, verificationdomain.CredentialProjection{
			Status: verificationdomain.CredentialInProgress,
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = verificationdomain.StatusInProgress
	request.ReviewerID = &actor.UserID
	s.recordTransition(ctx, verificationdomain.StatusPending, verificationdomain.StatusInProgress)
	return request, nil
}

func (s *Service) Approve(ctx context.Context, actor identity.Actor, input verificationdomain.DecideInput) (*verificationdomain.VerificationRequest, error) {
	request, err := s.loadForDecision(ctx, actor, input.RequestID)
	if err != nil {
		return nil, err
	}
	// A retried approval is a no-op: the attestation is already stamped.
	if request.Status == verificationdomain.StatusVerified {
		return request, nil
	}
	from := request.Status
	if from != verificationdomain.StatusPending && from != verificationdomain.StatusInProgress {
		return nil, &verificationdomain.ConflictError{
			RequestID: request.ID,
			Current:   from,
			Attempted: verificationdomain.StatusVerified,
		}
	}

	now := s.clock.Now()
	attestationID := ""
	if request.AttestationID != nil {
		attestationID = *request.AttestationID
	} else {
		attestationID, err = s.attestor.Attest(ctx, *request, now)
		if err != nil {
			return nil, err
		}
	}

	note := strings.TrimSpace(input.Note)
	updates := map[string]interface{}{
		"status":         verificationdomain.StatusVerified,
		"decided_at":     now,
		"attestation_id": attestationID,
		"updated_at":     now,
	}
	if note != "" {
		updates["decision_note"] = note
	}
	if request.ReviewerID == nil {
		// Deciding straight from the queue binds the reviewer now.
		updates["reviewer_id"] = actor.UserID
	}

	// Request decision and credential projection commit together; the
	// reconcile sweep covers the crash window between the two writes on
	// stores without transactional guarantees.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.applyTransition(ctx, tx, request, from, verificationdomain.StatusVerified, actor, noteOrNil(note), updates); err != nil {
			return err
		}
		return s.repo.UpdateCredentialProjection(ctx, tx, request.CredentialID, verificationdomain.CredentialProjection{
			Status:        verificationdomain.CredentialVerified,
			AttestationID: &attestationID,
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = verificationdomain.StatusVerified
	request.DecidedAt = &now
	request.AttestationID = &attestationID
	if request.ReviewerID == nil {
		request.ReviewerID = &actor.UserID
	}
	s.recordTransition(ctx, from, verificationdomain.StatusVerified)
	s.audit(ctx, actor, "verification.approved", request.ID, map[string]any{
		"credential_id":  request.CredentialID.String(),
		"attestation_id": attestationID,
	})
	return request, nil
}

func (s *Service) Reject(ctx context.Context, actor identity.Actor, input verificationdomain.DecideInput) (*verificationdomain.VerificationRequest, error) {
	note := strings.TrimSpace(input.Note)
	if note == "" {
		return nil, verificationdomain.ErrNoteRequired
	}

	request, err := s.loadForDecision(ctx, actor, input.RequestID)
	if err != nil {
		return nil, err
	}
	if request.Status == verificationdomain.StatusRejected {
		return request, nil
	}
	from := request.Status
	if from != verificationdomain.StatusPending && from != verificationdomain.StatusInProgress {
		return nil, &verificationdomain.ConflictError{
			RequestID: request.ID,
			Current:   from,
			Attempted: verificationdomain.StatusRejected,
		}
	}

	now := s.clock.Now()
	updates := map[string]interface{}{
		"status":        verificationdomain.StatusRejected,
		"decided_at":    now,
		"decision_note": note,
		"updated_at":    now,
	}
	if request.ReviewerID == nil {
		updates["reviewer_id"] = actor.UserID
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := s.applyTransition(ctx, tx, request, from, verificationdomain.StatusRejected, actor, &note, updates); err != nil {
			return err
		}
		return s.repo.UpdateCredentialProjection(ctx, tx, request.CredentialID, verificationdomain.CredentialProjection{
			Status:          verificationdomain.CredentialRejected,
			RejectionReason: &note,
			RejectedAt:      &now,
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = verificationdomain.StatusRejected
	request.DecidedAt = &now
	request.DecisionNote = &note
	if request.ReviewerID == nil {
		request.ReviewerID = &actor.UserID
	}
	s.recordTransition(ctx, from, verificationdomain.StatusRejected)
	s.audit(ctx, actor, "verification.rejected", request.ID, map[string]any{
		"credential_id": request.CredentialID.String(),
	})
	return request, nil
}

func (s *Service) CancelOpenRequest(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*verificationdomain.VerificationRequest, error) {
	if actor.UserID == 0 {
		return nil, verificationdomain.ErrInvalidActor
	}
	request, err := s.repo.FindRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, verificationdomain.ErrRequestNotFound
	}
	if request.RequesterID != actor.UserID && actor.Role != identity.RoleAdmin {
		return nil, verificationdomain.ErrNotOwner
	}
	if request.Status != verificationdomain.StatusDraft && request.Status != verificationdomain.StatusPending {
		return nil, &verificationdomain.ConflictError{
			RequestID: request.ID,
			Current:   request.Status,
			Attempted: verificationdomain.StatusRejected,
		}
	}

	// An owner cancel is the rejected transition wearing the cancel note.
	// There is no separate canceled state.
	from := request.Status
	now := s.clock.Now()
	note := verificationdomain.CancelNote
	err = s.db.Transaction(func(tx *gorm.DB) error {
		err := s.applyTransition(ctx, tx, request, from, verificationdomain.StatusRejected, actor, &note, map[string]interface{}{
			"status":        verificationdomain.StatusRejected,
			"decided_at":    now,
			"decision_note": note,
			"updated_at":    now,
		})
		if err != nil {
			return err
		}
		return s.repo.UpdateCredentialProjection(ctx, tx, request.CredentialID, verificationdomain.CredentialProjection{
			Status:          verificationdomain.CredentialRejected,
			RejectionReason: &note,
			RejectedAt:      &now,
		})
	})
	if err != nil {
		return nil, err
	}

	request.Status = verificationdomain.StatusRejected
	request.DecidedAt = &now
	request.DecisionNote = &note
	s.recordTransition(ctx, from, verificationdomain.StatusRejected)
	s.audit(ctx, actor, "verification.canceled", request.ID, map[string]any{
		"credential_id": request.CredentialID.String(),
	})
	return request, nil
}

func (s *Service) GetRequest(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*verificationdomain.RequestDetail, error) {
	request, err := s.repo.FindRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, verificationdomain.ErrRequestNotFound
	}
	if request.RequesterID != actor.UserID && !actor.CanReview() {
		return nil, verificationdomain.ErrNotOwner
	}
	timeline, err := s.repo.ListTimeline(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	return &verificationdomain.RequestDetail{Request: *request, Timeline: timeline}, nil
}

func (s *Service) ListRequestsForReview(ctx context.Context, actor identity.Actor) ([]verificationdomain.VerificationRequest, error) {
	if !actor.CanReview() {
		return nil, verificationdomain.ErrInvalidActor
	}
	return s.repo.ListByStatus(ctx, s.db, verificationdomain.StatusPending, 100)
}

func (s *Service) Reconcile(ctx context.Context) (verificationdomain.ReconcileReport, error) {
	log := pkglog.WithContext(ctx, s.log)
	drifted, err := s.repo.ListDriftedRequests(ctx, s.db, 500)
	if err != nil {
		return verificationdomain.ReconcileReport{}, err
	}

	report := verificationdomain.ReconcileReport{Scanned: len(drifted)}
	for _, request := range drifted {
		projection := verificationdomain.CredentialProjection{
			Status:        verificationdomain.CredentialVerified,
			AttestationID: request.AttestationID,
		}
		if request.Status == verificationdomain.StatusRejected {
			projection = verificationdomain.CredentialProjection{
				Status:          verificationdomain.CredentialRejected,
				RejectionReason: request.DecisionNote,
				RejectedAt:      request.DecidedAt,
			}
		}
		if err := s.repo.UpdateCredentialProjection(ctx, s.db, request.CredentialID, projection); err != nil {
			log.Warn("projection repair failed",
				zap.String("request_id", request.ID.String()),
				zap.String("credential_id", request.CredentialID.String()),
				zap.Error(err),
			)
			continue
		}
		report.Repaired++
		requestID := request.ID.String()
		if s.auditSvc != nil {
			_ = s.auditSvc.AuditLog(ctx, "system", nil, "verification.reconciled", "verification_request", &requestID, map[string]any{
				"credential_id": request.CredentialID.String(),
				"status":        string(request.Status),
			})
		}
	}
	if report.Repaired > 0 {
		log.Info("verification projections repaired",
			zap.Int("scanned", report.Scanned),
			zap.Int("repaired", report.Repaired),
		)
	}
	return report, nil
}

// loadForDecision fetches the request and checks the actor may decide it.
// An unclaimed request is open to any reviewer; once claimed, only the
// bound reviewer or an admin may decide.
func (s *Service) loadForDecision(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*verificationdomain.VerificationRequest, error) {
	if !actor.CanReview() {
		return nil, verificationdomain.ErrInvalidActor
	}
	if requestID == 0 {
		return nil, verificationdomain.ErrInvalidRequest
	}
	request, err := s.repo.FindRequest(ctx, s.db, requestID)
	if err != nil {
		return nil, err
	}
	if request == nil {
		return nil, verificationdomain.ErrRequestNotFound
	}
	if request.RequesterID == actor.UserID {
		return nil, verificationdomain.ErrSelfReview
	}
	if request.ReviewerID != nil && *request.ReviewerID != actor.UserID && actor.Role != identity.RoleAdmin {
		return nil, verificationdomain.ErrNotReviewer
	}
	return request, nil
}

// applyTransition performs the guarded status write plus the timeline
// append. A lost race re-reads the row so the conflict names the actual
// current status.
func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, request *verificationdomain.VerificationRequest, from, to verificationdomain.RequestStatus, actor identity.Actor, note *string, updates map[string]interface{}) error {
	if !verificationdomain.CanTransition(from, to) {
		return &verificationdomain.ConflictError{RequestID: request.ID, Current: from, Attempted: to}
	}
	applied, err := s.repo.TransitionStatus(ctx, tx, request.ID, from, updates)
	if err != nil {
		return err
	}
	if !applied {
		current, err := s.repo.FindRequest(ctx, tx, request.ID)
		if err != nil {
			return err
		}
		status := from
		if current != nil {
			status = current.Status
		}
		return &verificationdomain.ConflictError{RequestID: request.ID, Current: status, Attempted: to}
	}

	actorID := actor.UserID.String()
	entry := &verificationdomain.TimelineEntry{
		ID:         s.genID.Generate(),
		RequestID:  request.ID,
		FromStatus: from,
		ToStatus:   to,
		ActorType:  "user",
		ActorID:    &actorID,
		Note:       note,
		CreatedAt:  s.clock.Now(),
	}
	return s.repo.AppendTimeline(ctx, tx, entry)
}

func (s *Service) recordTransition(ctx context.Context, from, to verificationdomain.RequestStatus) {
	if s.obsMetrics == nil {
		return
	}
	s.obsMetrics.RecordVerificationTransition(ctx, string(from), string(to))
}

func (s *Service) audit(ctx context.Context, actor identity.Actor, action string, requestID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	actorID := actor.UserID.String()
	targetID := requestID.String()
	_ = s.auditSvc.AuditLog(ctx, "user", &actorID, action, "verification_request", &targetID, metadata)
}

func noteOrNil(note string) *string {
	if note == "" {
		return nil
	}
	return &note
}
