package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	"gorm.io/gorm"
)

type paymentFundingGate struct {
	payments paymentdomain.Service
}

// NewPaymentFundingGate backs submission funding by completed verification
// payment intents. Entitlement-covered submissions arrive here too: the
// obligation flow settles them as zero-amount completed intents.
func NewPaymentFundingGate(payments paymentdomain.Service) verificationdomain.FundingGate {
	return paymentFundingGate{payments: payments}
}

func (g paymentFundingGate) ConsumeFunding(ctx context.Context, tx *gorm.DB, userID snowflake.ID, reference string) error {
	return g.payments.ConsumeObligation(ctx, tx, userID, billingdomain.ActionVerification, reference)
}
