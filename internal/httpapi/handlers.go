package httpapi

import (
	"errors"
	"net/http"
	"time"

	"teleconsult/internal/aiflow"
	"teleconsult/internal/audit"
	"teleconsult/internal/auth"
	"teleconsult/internal/calls"
	"teleconsult/internal/dispatch"
	"teleconsult/internal/rbac"
	"teleconsult/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth *auth.Manager
	// AllowLogin enables the passwordless development login.
	AllowLogin bool

	Calls   *calls.Service
	Store   calls.Store
	Actions *dispatch.Actions
	Reports *reporting.Service
	Flows   *aiflow.Service

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
	// Done ends open event streams when closed, so server shutdown is not held up by them.
	Done <-chan struct{}
}

// ClientIP attaches the resolved client IP to the request context for the audit trail.
func ClientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(audit.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// --- Auth ---

type loginRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role"`
}

// Login issues a JWT token pair without checking credentials.
// It is only routed outside production.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || !h.AllowLogin {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.UserID == "" || !rbac.IsValidRole(req.Role) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "user_id and a valid role required"})
		return
	}
	pair, err := h.Auth.IssuePair(time.Now(), req.UserID, req.Name, req.Role)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h Handlers) Refresh(c *gin.Context) {
	if h.Auth == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "refresh_token required"})
		return
	}
	pair, err := h.Auth.Refresh(req.RefreshToken, time.Now())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"access_token": pair.AccessToken, "refresh_token": pair.RefreshToken})
}

// Me echoes the caller's identity.
func (h Handlers) Me(c *gin.Context) {
	a := actor(c)
	c.JSON(http.StatusOK, gin.H{"user_id": a.UserID, "name": a.Name, "role": a.Role})
}

// --- helpers ---

func actor(c *gin.Context) calls.Actor {
	ctx := c.Request.Context()
	uid, _ := auth.UserID(ctx)
	role, _ := auth.Role(ctx)
	return calls.Actor{UserID: uid, Name: auth.Name(ctx), Role: role}
}

// callError writes the HTTP form of a calls error.
func callError(c *gin.Context, err error) {
	status, msg := http.StatusInternalServerError, "internal error"
	switch {
	case errors.Is(err, calls.ErrInvalidArgument):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, calls.ErrForbidden):
		status, msg = http.StatusForbidden, "forbidden"
	case errors.Is(err, calls.ErrNotFound):
		status, msg = http.StatusNotFound, "call no longer exists"
	case errors.Is(err, calls.ErrConflict):
		status, msg = http.StatusConflict, "call already handled"
	case errors.Is(err, calls.ErrTooManyCalls):
		status, msg = http.StatusTooManyRequests, "too many ringing calls"
	case errors.Is(err, calls.ErrCredentialIssuance):
		status, msg = http.StatusBadGateway, err.Error()
	case errors.Is(err, calls.ErrWrite):
		status, msg = http.StatusServiceUnavailable, "call store unavailable"
	}
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
