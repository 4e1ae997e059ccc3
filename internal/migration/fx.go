package migration

import (
	"github.com/skillvouch/skillvouch/internal/config"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		// Versioned SQL runs against postgres; other dialects (sqlite in
		// local setups) fall back to schema sync.
		if cfg.DBType != "postgres" {
			return conn.AutoMigrate(
				&billingdomain.Promotion{},
				&billingdomain.UserBillingProfile{},
				&entitlementdomain.Subscription{},
				&entitlementdomain.UsageCounter{},
				&verificationdomain.Credential{},
				&verificationdomain.VerificationRequest{},
				&verificationdomain.TimelineEntry{},
				&paymentdomain.PaymentIntent{},
				&auditdomain.AuditLog{},
			)
		}

		sqlDB, err := conn.DB()
		if err != nil {
			return err
		}
		return RunMigrations(sqlDB)
	}),
)
