// Package domain contains the credential verification models and contracts.
package domain

import (
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// CredentialKind classifies what a credential attests.
type CredentialKind string

const (
	CredentialEducation  CredentialKind = "education"
	CredentialEmployment CredentialKind = "employment"
	CredentialSkill      CredentialKind = "skill"
	CredentialLicense    CredentialKind = "license"
)

// CredentialStatus mirrors the credential's verification lifecycle. The
// intermediate statuses are a projection of the open request's position and
// are repaired by the reconciliation sweep when a dual-write is interrupted.
type CredentialStatus string

const (
	CredentialDraft      CredentialStatus = "draft"
	CredentialPending    CredentialStatus = "pending"
	CredentialInProgress CredentialStatus = "in_progress"
	CredentialVerified   CredentialStatus = "verified"
	CredentialRejected   CredentialStatus = "rejected"
)

// CredentialProjection is the full outcome written onto the credential row
// alongside a request transition.
type CredentialProjection struct {
	Status          CredentialStatus
	AttestationID   *string
	RejectionReason *string
	RejectedAt      *time.Time
}

// Credential is a claim a member makes about themselves: a degree, a job, a
// skill, or a license.
type Credential struct {
	ID              snowflake.ID     `gorm:"primaryKey" json:"id"`
	OwnerID         snowflake.ID     `gorm:"not null;index" json:"owner_id"`
	Kind            CredentialKind   `gorm:"type:text;not null" json:"kind"`
	Title           string           `gorm:"type:text;not null" json:"title"`
	Slug            string           `gorm:"type:text;not null;index" json:"slug"`
	Issuer          string           `gorm:"type:text" json:"issuer,omitempty"`
	Description     string           `gorm:"type:text" json:"description,omitempty"`
	Status          CredentialStatus `gorm:"type:text;not null;default:'draft'" json:"status"`
	AttestationID   *string          `gorm:"type:text" json:"attestation_id,omitempty"`
	RejectionReason *string          `gorm:"type:text" json:"rejection_reason,omitempty"`
	RejectedAt      *time.Time       `json:"rejected_at,omitempty"`
	CreatedAt       time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Credential) TableName() string { return "credentials" }

// RequestStatus is a verification request's position in its lifecycle.
type RequestStatus string

const (
	StatusDraft      RequestStatus = "draft"
	StatusPending    RequestStatus = "pending"
	StatusInProgress RequestStatus = "in_progress"
	StatusVerified   RequestStatus = "verified"
	StatusRejected   RequestStatus = "rejected"
)

// Terminal reports whether no further transition may leave the status.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected:
		return true
	default:
		return false
	}
}

// allowedTransitions is the complete edge set. Anything absent conflicts.
// Claiming is optional: a reviewer may decide a pending request directly.
// There is no separate canceled state; an owner cancel is a rejection
// carrying a canceled_by_owner note.
var allowedTransitions = map[RequestStatus][]RequestStatus{
	StatusDraft:      {StatusPending, StatusRejected},
	StatusPending:    {StatusInProgress, StatusVerified, StatusRejected},
	StatusInProgress: {StatusVerified, StatusRejected},
}

// CanTransition reports whether the edge from -> to exists.
func CanTransition(from, to RequestStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// VerificationRequest tracks one credential through review. BillingRef ties
// the request to the payment or entitlement that funded it.
type VerificationRequest struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	CredentialID  snowflake.ID  `gorm:"not null;index" json:"credential_id"`
	RequesterID   snowflake.ID  `gorm:"not null;index" json:"requester_id"`
	Status        RequestStatus `gorm:"type:text;not null;index" json:"status"`
	ReviewerID    *snowflake.ID `gorm:"index" json:"reviewer_id,omitempty"`
	BillingRef    *string       `gorm:"type:text" json:"billing_ref,omitempty"`
	DecisionNote  *string       `gorm:"type:text" json:"decision_note,omitempty"`
	AttestationID *string       `gorm:"type:text" json:"attestation_id,omitempty"`
	SubmittedAt   *time.Time    `json:"submitted_at,omitempty"`
	DecidedAt     *time.Time    `json:"decided_at,omitempty"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (VerificationRequest) TableName() string { return "verification_requests" }

// TimelineEntry is one append-only record of a status transition. Entries
// are never updated or deleted; together they replay the request's history.
type TimelineEntry struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	RequestID  snowflake.ID      `gorm:"not null;index" json:"request_id"`
	FromStatus RequestStatus     `gorm:"type:text;not null" json:"from_status"`
	ToStatus   RequestStatus     `gorm:"type:text;not null" json:"to_status"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Note       *string           `gorm:"type:text" json:"note,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (TimelineEntry) TableName() string { return "verification_timeline" }

// ConflictError reports an attempted transition along a missing edge. The
// current status lets callers distinguish a lost race from a bad request.
type ConflictError struct {
	RequestID snowflake.ID
	Current   RequestStatus
	Attempted RequestStatus
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("verification request %s is %s; cannot transition to %s",
		e.RequestID, e.Current, e.Attempted)
}
