package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	CreateCredential(ctx context.Context, db *gorm.DB, credential *Credential) error
	FindCredential(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Credential, error)
	UpdateCredentialProjection(ctx context.Context, db *gorm.DB, id snowflake.ID, projection CredentialProjection) error

	CreateRequest(ctx context.Context, db *gorm.DB, request *VerificationRequest) error
	FindRequest(ctx context.Context, db *gorm.DB, id snowflake.ID) (*VerificationRequest, error)
	FindOpenRequestForCredential(ctx context.Context, db *gorm.DB, credentialID snowflake.ID) (*VerificationRequest, error)
	ListByStatus(ctx context.Context, db *gorm.DB, status RequestStatus, limit int) ([]VerificationRequest, error)

	// TransitionStatus applies updates only while the row still holds the
	// expected status. It reports whether the guarded write landed.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from RequestStatus, updates map[string]interface{}) (bool, error)

	AppendTimeline(ctx context.Context, db *gorm.DB, entry *TimelineEntry) error
	ListTimeline(ctx context.Context, db *gorm.DB, requestID snowflake.ID) ([]TimelineEntry, error)

	// ListDriftedRequests returns decided requests whose credential row does
	// not yet reflect the decision.
	ListDriftedRequests(ctx context.Context, db *gorm.DB, limit int) ([]VerificationRequest, error)
}
