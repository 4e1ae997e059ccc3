package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	"github.com/skillvouch/skillvouch/internal/authorization"
	billingdomain "github.com/skillvouch/skillvouch/internal/billing/domain"
	entitlementdomain "github.com/skillvouch/skillvouch/internal/entitlement/domain"
	matchingdomain "github.com/skillvouch/skillvouch/internal/matching/domain"
	paymentdomain "github.com/skillvouch/skillvouch/internal/payment/domain"
	verificationdomain "github.com/skillvouch/skillvouch/internal/verification/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Status  string            `json:"status,omitempty"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not_found")
	ErrInvalidRequest      = errors.New("invalid_request")
	ErrTooManyRequests     = errors.New("too_many_requests")
	ErrPaymentRequired     = errors.New("payment_required")
	ErrEntitlementExceeded = errors.New("entitlement_exceeded")
)

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func invalidRequestError() error {
	return newValidationError("request", "invalid_request", "invalid request")
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{Field: field, Code: code, Message: message},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	if vErr := asValidationErrors(err); vErr != nil {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	// Lifecycle conflicts carry the actual current status so clients can
	// refresh rather than blindly retry.
	var conflict *verificationdomain.ConflictError
	if errors.As(err, &conflict) {
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: conflict.Error(),
			Status:  string(conflict.Current),
		}
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, ErrForbidden),
		errors.Is(err, authorization.ErrForbidden),
		errors.Is(err, verificationdomain.ErrNotOwner),
		errors.Is(err, verificationdomain.ErrNotReviewer),
		errors.Is(err, verificationdomain.ErrSelfReview):
		return http.StatusForbidden, errorPayload{
			Type:    "forbidden",
			Message: "forbidden",
		}
	case errors.Is(err, ErrPaymentRequired),
		errors.Is(err, verificationdomain.ErrNotFunded),
		errors.Is(err, paymentdomain.ErrPaymentPending):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "payment_required",
			Message: "payment required",
		}
	case errors.Is(err, ErrEntitlementExceeded):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "entitlement_exceeded",
			Message: "plan limit reached for this feature",
		}
	case errors.Is(err, verificationdomain.ErrAlreadyOpen):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "credential already has an open verification request",
		}
	case errors.Is(err, verificationdomain.ErrCredentialDecided):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "credential already decided, submit a new credential",
		}
	case errors.Is(err, paymentdomain.ErrPaymentConsumed):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: "payment already spent",
		}
	case errors.Is(err, ErrTooManyRequests):
		return http.StatusTooManyRequests, errorPayload{
			Type:    "rate_limited",
			Message: "too many requests",
		}
	case isValidationError(err):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case isNotFoundError(err):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}

// classifyErrorForLog feeds the request logger with a stable error type and
// code without leaking internals into log output.
func classifyErrorForLog(err error) (string, string) {
	status, payload := mapError(err)
	return payload.Type, strconv.Itoa(status)
}

func asValidationErrors(err error) *ValidationErrors {
	var vErr *ValidationErrors
	if errors.As(err, &vErr) && vErr != nil {
		return vErr
	}
	return nil
}

func isValidationError(err error) bool {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billingdomain.ErrInvalidUser),
		errors.Is(err, billingdomain.ErrInvalidAction),
		errors.Is(err, entitlementdomain.ErrInvalidUser),
		errors.Is(err, entitlementdomain.ErrInvalidFeature),
		errors.Is(err, verificationdomain.ErrInvalidActor),
		errors.Is(err, verificationdomain.ErrInvalidCredential),
		errors.Is(err, verificationdomain.ErrInvalidRequest),
		errors.Is(err, verificationdomain.ErrNoteRequired),
		errors.Is(err, paymentdomain.ErrInvalidUser),
		errors.Is(err, paymentdomain.ErrInvalidAction),
		errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, matchingdomain.ErrNoCandidateSkills),
		errors.Is(err, auditdomain.ErrInvalidPageToken),
		errors.Is(err, auditdomain.ErrInvalidTimeRange):
		return true
	default:
		return false
	}
}

func isNotFoundError(err error) bool {
	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, verificationdomain.ErrCredentialNotFound),
		errors.Is(err, verificationdomain.ErrRequestNotFound),
		errors.Is(err, paymentdomain.ErrUnknownPayment),
		errors.Is(err, gorm.ErrRecordNotFound):
		return true
	default:
		return false
	}
}
