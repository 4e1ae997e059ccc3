package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/skillvouch/skillvouch/internal/audit/domain"
	"github.com/skillvouch/skillvouch/internal/authorization"
)

func (s *Server) ListAuditLogs(c *gin.Context) {
	actor, ok := actorFromRequest(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	if err := s.authzSvc.Authorize(c.Request.Context(), actor, authorization.ObjectAuditLog, authorization.ActionAuditLogView); err != nil {
		AbortWithError(c, err)
		return
	}

	var req auditdomain.ListAuditLogRequest
	if err := c.ShouldBindQuery(&req.Pagination); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	req.Action = strings.TrimSpace(c.Query("action"))
	req.TargetType = strings.TrimSpace(c.Query("target_type"))
	req.TargetID = strings.TrimSpace(c.Query("target_id"))
	req.ActorType = strings.TrimSpace(c.Query("actor_type"))

	startAt, err := parseTimeQuery(c, "start_at")
	if err != nil {
		AbortWithError(c, newValidationError("start_at", "invalid", "start_at must be RFC3339"))
		return
	}
	endAt, err := parseTimeQuery(c, "end_at")
	if err != nil {
		AbortWithError(c, newValidationError("end_at", "invalid", "end_at must be RFC3339"))
		return
	}
	req.StartAt = startAt
	req.EndAt = endAt

	resp, err := s.auditSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func parseTimeQuery(c *gin.Context, name string) (*time.Time, error) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &ts, nil
}
