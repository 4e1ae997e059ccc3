package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/skillvouch/skillvouch/internal/clock"
	"github.com/skillvouch/skillvouch/internal/identity"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	verificationrepo "github.com/skillvouch/skillvouch/internal/verification/repository"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testNow = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:verifdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&verificationdomain.Credential{},
		&verificationdomain.VerificationRequest{},
		&verificationdomain.TimelineEntry{},
	))
	return db
}

// fakeFundingGate accepts any pay_ reference exactly once, mirroring the
// single-use spend of a completed payment intent.
type fakeFundingGate struct {
	mu       sync.Mutex
	consumed map[string]bool
}

func newFakeFundingGate() *fakeFundingGate {
	return &fakeFundingGate{consumed: make(map[string]bool)}
}

func (g *fakeFundingGate) ConsumeFunding(_ context.Context, _ *gorm.DB, _ snowflake.ID, reference string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consumed[reference] {
		return paymentdomain.ErrPaymentConsumed
	}
	if !strings.HasPrefix(reference, "pay_") {
		return paymentdomain.ErrUnknownPayment
	}
	g.consumed[reference] = true
	return nil
}

func newVerificationService(t *testing.T, db *gorm.DB) verificationdomain.Service {
	t.Helper()
	return newVerificationServiceWithGate(t, db, newFakeFundingGate())
}

func newVerificationServiceWithGate(t *testing.T, db *gorm.DB, gate verificationdomain.FundingGate) verificationdomain.Service {
	t.Helper()

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)

	return NewService(ServiceParam{
		DB:       db,
		Log:      zap.NewNop(),
		Clock:    clock.NewFakeClock(testNow),
		GenID:    node,
		Repo:     verificationrepo.Provide(),
		Attestor: NewLocalAttestor(),
		Funding:  gate,
	})
}

func newActor(t *testing.T, node int64, role string) identity.Actor {
	t.Helper()
	gen, err := snowflake.NewNode(node)
	require.NoError(t, err)
	return identity.Actor{UserID: gen.Generate(), Role: role}
}

func createCredential(t *testing.T, svc verificationdomain.Service, owner identity.Actor) *verificationdomain.Credential {
	t.Helper()

	credential, err := svc.CreateCredential(context.Background(), owner, verificationdomain.CreateCredentialRequest{
		Kind:   verificationdomain.CredentialEducation,
		Title:  "BSc Computer Science",
		Issuer: "Example University",
	})
	require.NoError(t, err)
	require.Equal(t, verificationdomain.CredentialDraft, credential.Status)
	return credential
}

func submitRequest(t *testing.T, svc verificationdomain.Service, owner identity.Actor) *verificationdomain.VerificationRequest {
	t.Helper()

	credential := createCredential(t, svc, owner)

	request, err := svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: credential.ID,
		BillingRef:   "pay_" + credential.ID.String(),
	})
	require.NoError(t, err)
	require.Equal(t, verificationdomain.StatusPending, request.Status)
	return request
}

func loadCredential(t *testing.T, db *gorm.DB, id snowflake.ID) verificationdomain.Credential {
	t.Helper()

	var credential verificationdomain.Credential
	require.NoError(t, db.Where("id = ?", id).First(&credential).Error)
	return credential
}

func TestSubmitRequiresFunding(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)

	credential := createCredential(t, svc, owner)

	_, err := svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: credential.ID,
	})
	assert.ErrorIs(t, err, verificationdomain.ErrNotFunded)
}

func TestSubmitUnknownFundingRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)

	credential := createCredential(t, svc, owner)

	_, err := svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: credential.ID,
		BillingRef:   "ref_made_up",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrUnknownPayment)

	// The failed spend rolled everything back.
	var requests int64
	require.NoError(t, db.Model(&verificationdomain.VerificationRequest{}).
		Where("credential_id = ?", credential.ID).Count(&requests).Error)
	assert.Equal(t, int64(0), requests)
	assert.Equal(t, verificationdomain.CredentialDraft, loadCredential(t, db, credential.ID).Status)
}

func TestSubmitFundingIsSingleUse(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)

	first := createCredential(t, svc, owner)
	second := createCredential(t, svc, owner)

	_, err := svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: first.ID,
		BillingRef:   "pay_shared",
	})
	require.NoError(t, err)

	_, err = svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: second.ID,
		BillingRef:   "pay_shared",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrPaymentConsumed)
}

func TestSubmitCreatesTimeline(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)

	request := submitRequest(t, svc, owner)

	detail, err := svc.GetRequest(context.Background(), owner, request.ID)
	require.NoError(t, err)
	require.Len(t, detail.Timeline, 1)
	assert.Equal(t, verificationdomain.StatusDraft, detail.Timeline[0].FromStatus)
	assert.Equal(t, verificationdomain.StatusPending, detail.Timeline[0].ToStatus)

	// The credential mirrors the open request in the same transaction.
	assert.Equal(t, verificationdomain.CredentialPending, loadCredential(t, db, request.CredentialID).Status)
}

func TestSubmitRejectsSecondOpenRequest(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)

	request := submitRequest(t, svc, owner)

	_, err := svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: request.CredentialID,
		BillingRef:   "pay_second",
	})
	assert.ErrorIs(t, err, verificationdomain.ErrAlreadyOpen)
}

func TestResubmitDecidedCredentialRejected(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)
	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)
	_, err = svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)

	// Verified is final; re-verification starts with a new credential.
	_, err = svc.SubmitRequest(context.Background(), owner, verificationdomain.SubmitRequestInput{
		CredentialID: request.CredentialID,
		BillingRef:   "pay_retry",
	})
	assert.ErrorIs(t, err, verificationdomain.ErrCredentialDecided)
}

func TestClaimThenApprove(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)

	claimed, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.StatusInProgress, claimed.Status)
	require.NotNil(t, claimed.ReviewerID)
	assert.Equal(t, reviewer.UserID, *claimed.ReviewerID)
	assert.Equal(t, verificationdomain.CredentialInProgress, loadCredential(t, db, request.CredentialID).Status)

	approved, err := svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.StatusVerified, approved.Status)
	require.NotNil(t, approved.AttestationID)
	assert.NotEmpty(t, *approved.AttestationID)

	// Credential projection commits in the same transaction.
	credential := loadCredential(t, db, request.CredentialID)
	assert.Equal(t, verificationdomain.CredentialVerified, credential.Status)
	require.NotNil(t, credential.AttestationID)
	assert.Equal(t, *approved.AttestationID, *credential.AttestationID)
}

func TestApproveIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)
	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)

	first, err := svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)
	second, err := svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)
	assert.Equal(t, *first.AttestationID, *second.AttestationID)

	var count int64
	require.NoError(t, db.Model(&verificationdomain.TimelineEntry{}).
		Where("request_id = ? AND to_status = ?", request.ID, verificationdomain.StatusVerified).
		Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRejectRequiresNote(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)
	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	assert.ErrorIs(t, err, verificationdomain.ErrNoteRequired)

	rejected, err := svc.Reject(context.Background(), reviewer, verificationdomain.DecideInput{
		RequestID: request.ID,
		Note:      "issuer could not confirm enrollment",
	})
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.DecisionNote)

	// The note lands on the credential as its rejection reason.
	credential := loadCredential(t, db, request.CredentialID)
	assert.Equal(t, verificationdomain.CredentialRejected, credential.Status)
	require.NotNil(t, credential.RejectionReason)
	assert.Equal(t, "issuer could not confirm enrollment", *credential.RejectionReason)
	require.NotNil(t, credential.RejectedAt)
}

func TestDecideDirectlyFromPending(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	// Rejecting an unclaimed request binds the reviewer and decides it.
	request := submitRequest(t, svc, newActor(t, 10, identity.RoleMember))
	rejected, err := svc.Reject(context.Background(), reviewer, verificationdomain.DecideInput{
		RequestID: request.ID,
		Note:      "insufficient evidence",
	})
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.StatusRejected, rejected.Status)
	require.NotNil(t, rejected.ReviewerID)
	assert.Equal(t, reviewer.UserID, *rejected.ReviewerID)

	credential := loadCredential(t, db, request.CredentialID)
	assert.Equal(t, verificationdomain.CredentialRejected, credential.Status)
	require.NotNil(t, credential.RejectionReason)
	assert.Equal(t, "insufficient evidence", *credential.RejectionReason)

	var entries int64
	require.NoError(t, db.Model(&verificationdomain.TimelineEntry{}).
		Where("request_id = ?", request.ID).Count(&entries).Error)
	assert.Equal(t, int64(2), entries)

	// Approval straight from pending works the same way.
	request = submitRequest(t, svc, newActor(t, 12, identity.RoleMember))
	approved, err := svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.StatusVerified, approved.Status)
	require.NotNil(t, approved.ReviewerID)
	assert.Equal(t, verificationdomain.CredentialVerified, loadCredential(t, db, request.CredentialID).Status)
}

func TestInvalidEdgesConflict(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)
	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)

	// A claimed request can no longer be canceled by its owner.
	_, err = svc.CancelOpenRequest(context.Background(), owner, request.ID)
	var conflict *verificationdomain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, verificationdomain.StatusInProgress, conflict.Current)
	assert.Equal(t, verificationdomain.StatusRejected, conflict.Attempted)

	// Decided requests cannot be re-claimed or flipped to the other
	// terminal state.
	_, err = svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)
	_, err = svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, verificationdomain.StatusVerified, conflict.Current)

	_, err = svc.Reject(context.Background(), reviewer, verificationdomain.DecideInput{
		RequestID: request.ID,
		Note:      "too late",
	})
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, verificationdomain.StatusVerified, conflict.Current)
	assert.Equal(t, verificationdomain.StatusRejected, conflict.Attempted)
}

func TestSelfReviewBlocked(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, reviewer)

	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	assert.ErrorIs(t, err, verificationdomain.ErrSelfReview)

	_, err = svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	assert.ErrorIs(t, err, verificationdomain.ErrSelfReview)
}

func TestCancelOpenRequest(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)

	request := submitRequest(t, svc, owner)

	canceled, err := svc.CancelOpenRequest(context.Background(), owner, request.ID)
	require.NoError(t, err)
	assert.Equal(t, verificationdomain.StatusRejected, canceled.Status)
	require.NotNil(t, canceled.DecisionNote)
	assert.Equal(t, verificationdomain.CancelNote, *canceled.DecisionNote)

	credential := loadCredential(t, db, request.CredentialID)
	assert.Equal(t, verificationdomain.CredentialRejected, credential.Status)
	require.NotNil(t, credential.RejectionReason)
	assert.Equal(t, verificationdomain.CancelNote, *credential.RejectionReason)

	stranger := newActor(t, 12, identity.RoleMember)
	request2 := submitRequest(t, svc, stranger)
	_, err = svc.CancelOpenRequest(context.Background(), owner, request2.ID)
	assert.ErrorIs(t, err, verificationdomain.ErrNotOwner)
}

func TestReconcileRepairsProjection(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)
	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)
	approved, err := svc.Approve(context.Background(), reviewer, verificationdomain.DecideInput{RequestID: request.ID})
	require.NoError(t, err)

	// Simulate an interrupted dual-write: roll the credential back.
	require.NoError(t, db.Model(&verificationdomain.Credential{}).
		Where("id = ?", request.CredentialID).
		Updates(map[string]interface{}{"status": verificationdomain.CredentialInProgress, "attestation_id": nil}).Error)

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Repaired)

	credential := loadCredential(t, db, request.CredentialID)
	assert.Equal(t, verificationdomain.CredentialVerified, credential.Status)
	require.NotNil(t, credential.AttestationID)
	assert.Equal(t, *approved.AttestationID, *credential.AttestationID)

	// A clean store is a no-op.
	report, err = svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
}

func TestReconcileRepairsRejectedProjection(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	owner := newActor(t, 10, identity.RoleMember)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	request := submitRequest(t, svc, owner)
	_, err := svc.ClaimReview(context.Background(), reviewer, request.ID)
	require.NoError(t, err)
	_, err = svc.Reject(context.Background(), reviewer, verificationdomain.DecideInput{
		RequestID: request.ID,
		Note:      "issuer unreachable",
	})
	require.NoError(t, err)

	// The credential stuck mid-review must still be caught.
	require.NoError(t, db.Model(&verificationdomain.Credential{}).
		Where("id = ?", request.CredentialID).
		Updates(map[string]interface{}{"status": verificationdomain.CredentialInProgress, "rejection_reason": nil, "rejected_at": nil}).Error)

	report, err := svc.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	credential := loadCredential(t, db, request.CredentialID)
	assert.Equal(t, verificationdomain.CredentialRejected, credential.Status)
	require.NotNil(t, credential.RejectionReason)
	assert.Equal(t, "issuer unreachable", *credential.RejectionReason)
	require.NotNil(t, credential.RejectedAt)
}

func TestReviewQueueListsPendingOnly(t *testing.T) {
	db := setupTestDB(t)
	svc := newVerificationService(t, db)
	reviewer := newActor(t, 11, identity.RoleVerifier)

	first := submitRequest(t, svc, newActor(t, 10, identity.RoleMember))
	second := submitRequest(t, svc, newActor(t, 12, identity.RoleMember))
	_, err := svc.ClaimReview(context.Background(), reviewer, first.ID)
	require.NoError(t, err)

	queue, err := svc.ListRequestsForReview(context.Background(), reviewer)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, second.ID, queue[0].ID)

	member := newActor(t, 13, identity.RoleMember)
	_, err = svc.ListRequestsForReview(context.Background(), member)
	assert.ErrorIs(t, err, verificationdomain.ErrInvalidActor)
}
