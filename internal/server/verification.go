package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/skillvouch/skillvouch/internal/authorization"
	"github.com/skillvouch/skillvouch/internal/identity"
	"github.com/skillvouch/skillvouch/internal/ratelimit"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
)

type submitVerificationRequest struct {
	CredentialID string `json:"credential_id" binding:"required"`
	BillingRef   string `json:"billing_ref"`
}

type decideVerificationRequest struct {
	Note string `json:"note"`
}

func (s *Server) SubmitVerificationRequest(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectVerificationRequest, authorization.ActionVerificationSubmit); err != nil {
		AbortWithError(c, err)
		return
	}

	if !s.allowSubmit(c, actor) {
		return
	}

	var req submitVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	credentialID, err := snowflake.ParseString(strings.TrimSpace(req.CredentialID))
	if err != nil {
		AbortWithError(c, newValidationError("credential_id", "invalid", "credential_id must be a valid id"))
		return
	}

	request, err := s.verificationSvc.SubmitRequest(c.Request.Context(), actor, verificationdomain.SubmitRequestInput{
		CredentialID: credentialID,
		BillingRef:   strings.TrimSpace(req.BillingRef),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"request": request})
}

// allowSubmit applies the per-user and endpoint-wide submit rate limits.
// A missing or disabled limiter allows everything; a limiter error fails
// open so the store outage does not take submissions down with it.
func (s *Server) allowSubmit(c *gin.Context, actor identity.Actor) bool {
	if !s.submitLimiter.Enabled() {
		return true
	}

	ctx := c.Request.Context()
	res, err := s.submitLimiter.AllowUser(ctx, actor.UserID.String())
	if err == nil && res != nil && !res.Allowed {
		s.denySubmit(c, res)
		return false
	}

	res, err = s.submitLimiter.AllowEndpoint(ctx)
	if err == nil && res != nil && !res.Allowed {
		s.denySubmit(c, res)
		return false
	}

	return true
}

func (s *Server) denySubmit(c *gin.Context, res *ratelimit.Result) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordRateLimitDenied(c.Request.Context(), c.FullPath())
	}
	if res.RetryAfter > 0 {
		c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
	}
	AbortWithError(c, ErrTooManyRequests)
}

func (s *Server) ClaimVerificationRequest(c *gin.Context) {
	actor, requestID, ok := s.requestActorAndID(c, authorization.ActionVerificationReview)
	if !ok {
		return
	}

	request, err := s.verificationSvc.ClaimReview(c.Request.Context(), actor, requestID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

func (s *Server) ApproveVerificationRequest(c *gin.Context) {
	s.decideVerificationRequest(c, s.verificationSvc.Approve)
}

func (s *Server) RejectVerificationRequest(c *gin.Context) {
	s.decideVerificationRequest(c, s.verificationSvc.Reject)
}

func (s *Server) decideVerificationRequest(c *gin.Context, decide func(ctx context.Context, actor identity.Actor, input verificationdomain.DecideInput) (*verificationdomain.VerificationRequest, error)) {
	actor, requestID, ok := s.requestActorAndID(c, authorization.ActionVerificationDecide)
	if !ok {
		return
	}

	var req decideVerificationRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		AbortWithError(c, invalidRequestError())
		return
	}

	request, err := decide(c.Request.Context(), actor, verificationdomain.DecideInput{
		RequestID: requestID,
		Note:      strings.TrimSpace(req.Note),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

func (s *Server) CancelVerificationRequest(c *gin.Context) {
	actor, requestID, ok := s.requestActorAndID(c, authorization.ActionVerificationCancel)
	if !ok {
		return
	}

	request, err := s.verificationSvc.CancelOpenRequest(c.Request.Context(), actor, requestID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"request": request})
}

func (s *Server) GetVerificationRequest(c *gin.Context) {
	actor, requestID, ok := s.requestActorAndID(c, authorization.ActionVerificationView)
	if !ok {
		return
	}

	detail, err := s.verificationSvc.GetRequest(c.Request.Context(), actor, requestID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, detail)
}

func (s *Server) ListReviewQueue(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectVerificationRequest, authorization.ActionVerificationReview); err != nil {
		AbortWithError(c, err)
		return
	}

	requests, err := s.verificationSvc.ListRequestsForReview(c.Request.Context(), actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

func (s *Server) RunReconcile(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectVerificationRequest, authorization.ActionVerificationDecide); err != nil {
		AbortWithError(c, err)
		return
	}

	report, err := s.verificationSvc.Reconcile(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, report)
}

func (s *Server) requestActorAndID(c *gin.Context, action string) (identity.Actor, snowflake.ID, bool) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return identity.Actor{}, 0, false
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectVerificationRequest, action); err != nil {
		AbortWithError(c, err)
		return identity.Actor{}, 0, false
	}

	requestID, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil {
		AbortWithError(c, newValidationError("id", "invalid", "id must be a valid request id"))
		return identity.Actor{}, 0, false
	}

	return actor, requestID, true
}
