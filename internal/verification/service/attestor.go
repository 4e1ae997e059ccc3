package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
)

// Attestor produces the durable attestation identifier stamped on a
// verified credential. Implementations must be deterministic for the same
// decision so a retried approval stamps the same value.
type Attestor interface {
	Attest(ctx context.Context, request verificationdomain.VerificationRequest, decidedAt time.Time) (string, error)
}

type localAttestor struct{}

// NewLocalAttestor returns the default attestor: a content hash over the
// decision tuple. External signing services can replace it behind the same
// interface.
func NewLocalAttestor() Attestor {
	return localAttestor{}
}

func (localAttestor) Attest(_ context.Context, request verificationdomain.VerificationRequest, decidedAt time.Time) (string, error) {
	reviewer := ""
	if request.ReviewerID != nil {
		reviewer = request.ReviewerID.String()
	}
	payload := fmt.Sprintf("%s|%s|%s|%d",
		request.ID, request.CredentialID, reviewer, decidedAt.UTC().Unix())
	sum := sha256.Sum256([]byte(payload))
	return "att_" + hex.EncodeToString(sum[:]), nil
}
