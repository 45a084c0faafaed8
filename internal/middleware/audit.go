package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/theftclaim-api/internal/models"
	"github.com/noah-isme/theftclaim-api/pkg/middleware/requestid"
)

// AuditWriter persists audit entries.
type AuditWriter interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type auditDetails struct {
	Route     string `json:"route"`
	Method    string `json:"method"`
	Status    int    `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	RequestID string `json:"request_id,omitempty"`
}

// Audit records action against resource once the handler has answered with a
// 2xx or 3xx status. The :id route parameter becomes the resource id. The
// entry is written even if the client has already disconnected.
func Audit(repo AuditWriter, action, resource string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		if repo == nil || status >= 400 {
			return
		}
		entry := &models.AuditLog{
			Action:    action,
			Resource:  resource,
			IPAddress: c.ClientIP(),
			UserAgent: c.GetHeader("User-Agent"),
		}
		if claims := Claims(c); claims != nil {
			entry.UserID = &claims.UserID
		}
		if id := c.Param("id"); id != "" {
			entry.ResourceID = &id
		}
		entry.NewValues, _ = json.Marshal(auditDetails{
			Route:     c.FullPath(),
			Method:    c.Request.Method,
			Status:    status,
			LatencyMS: time.Since(start).Milliseconds(),
			RequestID: requestid.Value(c),
		})

		if err := repo.CreateAuditLog(context.WithoutCancel(c.Request.Context()), entry); err != nil {
			_ = c.Error(err)
		}
	}
}
