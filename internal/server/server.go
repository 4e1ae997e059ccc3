package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skillvouch/skillvouch/internal/audit"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	"github.com/skillvouch/skillvouch/internal/authorization"
	"github.com/skillvouch/skillvouch/internal/billing"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	"github.com/skillvouch/skillvouch/internal/config"
	"github.com/skillvouch/skillvouch/internal/entitlement"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	"github.com/skillvouch/skillvouch/internal/matching"
	matchingdomain "github.com/skillvouch/skillvouch/internal/matching/domain"
	"github.com/skillvouch/skillvouch/internal/observability"
	obsmiddleware "github.com/skillvouch/skillvouch/internal/observability/logger"
	obsmetrics "github.com/skillvouch/skillvouch/internal/observability/metrics"
	obstracing "github.com/skillvouch/skillvouch/internal/observability/tracing"
	"github.com/skillvouch/skillvouch/internal/payment"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	"github.com/skillvouch/skillvouch/internal/ratelimit"
	"github.com/skillvouch/skillvouch/internal/verification"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	authorization.Module,
	audit.Module,
	billing.Module,
	entitlement.Module,
	verification.Module,
	payment.Module,
	matching.Module,
	ratelimit.Module,
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())
	r.Use(ActorContext())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	db              *gorm.DB
	genID           *snowflake.Node
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	billingSvc      billingdomain.Service
	entitlementSvc  entitlementdomain.Service
	verificationSvc verificationdomain.Service
	paymentSvc      paymentdomain.Service
	matchingSvc     matchingdomain.Service
	submitLimiter   *ratelimit.VerificationSubmitLimiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	DB              *gorm.DB
	GenID           *snowflake.Node
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	BillingSvc      billingdomain.Service
	EntitlementSvc  entitlementdomain.Service
	VerificationSvc verificationdomain.Service
	PaymentSvc      paymentdomain.Service
	MatchingSvc     matchingdomain.Service
	SubmitLimiter   *ratelimit.VerificationSubmitLimiter `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics                  `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		db:              p.DB,
		genID:           p.GenID,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		billingSvc:      p.BillingSvc,
		entitlementSvc:  p.EntitlementSvc,
		verificationSvc: p.VerificationSvc,
		paymentSvc:      p.PaymentSvc,
		matchingSvc:     p.MatchingSvc,
		submitLimiter:   p.SubmitLimiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerWebhookRoutes()
	svc.registerAdminRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api/v1", AuthRequired())

	api.POST("/credentials", s.CreateCredential)

	api.POST("/verification-requests", s.SubmitVerificationRequest)
	api.GET("/verification-requests/queue", s.ListReviewQueue)
	api.GET("/verification-requests/:id", s.GetVerificationRequest)
	api.POST("/verification-requests/:id/claim", s.ClaimVerificationRequest)
	api.POST("/verification-requests/:id/approve", s.ApproveVerificationRequest)
	api.POST("/verification-requests/:id/reject", s.RejectVerificationRequest)
	api.POST("/verification-requests/:id/cancel", s.CancelVerificationRequest)

	api.GET("/fees/quote", s.QuoteFee)
	api.GET("/entitlements/:feature", s.PeekEntitlement)
	api.POST("/entitlements/:feature/consume", s.ConsumeEntitlement)
	api.POST("/entitlements/:feature/release", s.ReleaseEntitlement)

	api.POST("/payments/obligations", s.CreatePaymentObligation)
	api.GET("/payments/:reference", s.GetPaymentIntent)

	api.POST("/matching/score", s.ScoreCandidate)
}

func (s *Server) registerWebhookRoutes() {
	// Provider callbacks carry their own idempotency; no actor headers here.
	hooks := s.engine.Group("/webhooks")
	hooks.POST("/payments/completion", s.HandlePaymentCompletion)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin/v1", AuthRequired())

	admin.GET("/audit-logs", s.ListAuditLogs)
	admin.POST("/verification/reconcile", s.RunReconcile)
}
