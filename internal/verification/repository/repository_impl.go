package repository

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	"gorm.io/gorm"
)

type repository struct{}

func Provide() verificationdomain.Repository {
	return &repository{}
}

func (r *repository) CreateCredential(ctx context.Context, db *gorm.DB, credential *verificationdomain.Credential) error {
	return db.WithContext(ctx).Create(credential).Error
}

func (r *repository) FindCredential(ctx context.Context, db *gorm.DB, id snowflake.ID) (*verificationdomain.Credential, error) {
	var credential verificationdomain.Credential
	err := db.WithContext(ctx).Where("id = ?", id).First(&credential).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &credential, nil
}

func (r *repository) UpdateCredentialProjection(ctx context.Context, db *gorm.DB, id snowflake.ID, projection verificationdomain.CredentialProjection) error {
	updates := map[string]interface{}{
		"status":           projection.Status,
		"rejection_reason": projection.RejectionReason,
		"rejected_at":      projection.RejectedAt,
		"updated_at":       gorm.Expr("CURRENT_TIMESTAMP"),
	}
	if projection.AttestationID != nil {
		updates["attestation_id"] = *projection.AttestationID
	}
	return db.WithContext(ctx).
		Model(&verificationdomain.Credential{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) CreateRequest(ctx context.Context, db *gorm.DB, request *verificationdomain.VerificationRequest) error {
	return db.WithContext(ctx).Create(request).Error
}

func (r *repository) FindRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) (*verificationdomain.VerificationRequest, error) {
	var request verificationdomain.VerificationRequest
	err := db.WithContext(ctx).Where("id = ?", id).First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) FindOpenRequestForCredential(ctx context.Context, db *gorm.DB, credentialID snowflake.ID) (*verificationdomain.VerificationRequest, error) {
	var request verificationdomain.VerificationRequest
	err := db.WithContext(ctx).
		Where("credential_id = ? AND status IN ?", credentialID, []verificationdomain.RequestStatus{
			verificationdomain.StatusDraft,
			verificationdomain.StatusPending,
			verificationdomain.StatusInProgress,
		}).
		First(&request).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &request, nil
}

func (r *repository) ListByStatus(ctx context.Context, db *gorm.DB, status verificationdomain.RequestStatus, limit int) ([]verificationdomain.VerificationRequest, error) {
	var requests []verificationdomain.VerificationRequest
	stmt := db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at asc, id asc")
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}

// TransitionStatus is the single write path for status changes. The status
// predicate makes concurrent claims race safely: only one guarded UPDATE
// can match the old status.
func (r *repository) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from verificationdomain.RequestStatus, updates map[string]interface{}) (bool, error) {
	res := db.WithContext(ctx).
		Model(&verificationdomain.VerificationRequest{}).
		Where("id = ? AND status = ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) AppendTimeline(ctx context.Context, db *gorm.DB, entry *verificationdomain.TimelineEntry) error {
	return db.WithContext(ctx).Create(entry).Error
}

func (r *repository) ListTimeline(ctx context.Context, db *gorm.DB, requestID snowflake.ID) ([]verificationdomain.TimelineEntry, error) {
	var entries []verificationdomain.TimelineEntry
	err := db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at asc, id asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repository) ListDriftedRequests(ctx context.Context, db *gorm.DB, limit int) ([]verificationdomain.VerificationRequest, error) {
	var requests []verificationdomain.VerificationRequest
	stmt := db.WithContext(ctx).
		Model(&verificationdomain.VerificationRequest{}).
		Joins("JOIN credentials ON credentials.id = verification_requests.credential_id").
		Where("(verification_requests.status = ? AND credentials.status <> ?) OR (verification_requests.status = ? AND credentials.status <> ?)",
			verificationdomain.StatusVerified, verificationdomain.CredentialVerified,
			verificationdomain.StatusRejected, verificationdomain.CredentialRejected)
	if limit > 0 {
		stmt = stmt.Limit(limit)
	}
	if err := stmt.Find(&requests).Error; err != nil {
		return nil, err
	}
	return requests, nil
}
