package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/skillvouch/skillvouch/internal/identity"
	"gorm.io/gorm"
)

// CancelNote marks a rejection that was an owner cancel rather than a
// reviewer decision.
const CancelNote = "canceled_by_owner"

// FundingGate spends the billing reference backing a submission. It runs on
// the submit transaction so a failed submit does not burn the funding, and
// a spent reference can never fund a second request.
type FundingGate interface {
	ConsumeFunding(ctx context.Context, tx *gorm.DB, userID snowflake.ID, reference string) error
}

type CreateCredentialRequest struct {
	Kind        CredentialKind `json:"kind" binding:"required"`
	Title       string         `json:"title" binding:"required"`
	Issuer      string         `json:"issuer"`
	Description string         `json:"description"`
}

type SubmitRequestInput struct {
	CredentialID snowflake.ID `json:"credential_id"`
	// BillingRef is the payment intent reference or entitlement receipt
	// that funded the submission. Empty means not yet funded.
	BillingRef string `json:"billing_ref"`
}

type DecideInput struct {
	RequestID snowflake.ID `json:"request_id"`
	Note      string       `json:"note"`
}

type RequestDetail struct {
	Request  VerificationRequest `json:"request"`
	Timeline []TimelineEntry     `json:"timeline"`
}

type ReconcileReport struct {
	Scanned  int `json:"scanned"`
	Repaired int `json:"repaired"`
}

type Service interface {
	CreateCredential(ctx context.Context, actor identity.Actor, req CreateCredentialRequest) (*Credential, error)

	// SubmitRequest spends the billing reference, creates a verification
	// request, and moves it draft -> pending, all in one transaction. The
	// credential must still be in draft; decided credentials need a fresh
	// credential.
	SubmitRequest(ctx context.Context, actor identity.Actor, input SubmitRequestInput) (*VerificationRequest, error)

	// ClaimReview moves pending -> in_progress and binds the reviewer.
	// Claiming is optional; a decision may come straight from pending.
	ClaimReview(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*VerificationRequest, error)

	// Approve moves pending or in_progress -> verified, stamps the
	// attestation, and projects the outcome onto the credential in the
	// same transaction.
	Approve(ctx context.Context, actor identity.Actor, input DecideInput) (*VerificationRequest, error)

	// Reject moves pending or in_progress -> rejected. A decision note is
	// mandatory and lands on the credential as its rejection reason.
	Reject(ctx context.Context, actor identity.Actor, input DecideInput) (*VerificationRequest, error)

	// CancelOpenRequest rejects a draft or pending request with the
	// CancelNote. Requests under review or decided cannot be canceled.
	CancelOpenRequest(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*VerificationRequest, error)

	GetRequest(ctx context.Context, actor identity.Actor, requestID snowflake.ID) (*RequestDetail, error)
	ListRequestsForReview(ctx context.Context, actor identity.Actor) ([]VerificationRequest, error)

	// Reconcile repairs credentials whose projection drifted from the
	// decided request, then reports what it touched.
	Reconcile(ctx context.Context) (ReconcileReport, error)
}

var (
	ErrInvalidActor       = errors.New("invalid_actor")
	ErrInvalidCredential  = errors.New("invalid_credential")
	ErrInvalidRequest     = errors.New("invalid_request")
	ErrCredentialNotFound = errors.New("credential_not_found")
	ErrRequestNotFound    = errors.New("request_not_found")
	ErrNotOwner           = errors.New("not_credential_owner")
	ErrNotReviewer        = errors.New("not_request_reviewer")
	ErrSelfReview         = errors.New("cannot_review_own_credential")
	ErrNoteRequired       = errors.New("decision_note_required")
	ErrNotFunded          = errors.New("request_not_funded")
	ErrAlreadyOpen        = errors.New("credential_already_under_review")
	ErrCredentialDecided  = errors.New("credential_already_decided")
)
