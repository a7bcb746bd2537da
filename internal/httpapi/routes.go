package httpapi

import (
	"teleconsult/internal/rbac"

	"github.com/gin-gonic/gin"
)

// Register mounts the /v1 API on r. authMW must verify the access token and
// put the caller identity into the request context.
func (h Handlers) Register(r gin.IRouter, authMW gin.HandlerFunc) {
	v1 := r.Group("/v1")
	v1.Use(ClientIP())

	authGroup := v1.Group("/auth")
	{
		if h.AllowLogin {
			authGroup.POST("/login", h.Login)
		}
		authGroup.POST("/refresh", h.Refresh)
	}

	api := v1.Group("")
	api.Use(authMW)
	api.GET("/me", h.Me)

	callsGroup := api.Group("/calls")
	{
		callsGroup.POST("", rbac.RequireAnyRole(rbac.RolePatient), h.CreateCall)
		callsGroup.GET("/:id", h.GetCall)
		callsGroup.POST("/:id/accept", h.AcceptCall)
		callsGroup.POST("/:id/decline", h.DeclineCall)
		callsGroup.POST("/:id/cancel", h.CancelCall)
		callsGroup.POST("/:id/join", h.JoinCall)
		callsGroup.POST("/:id/leave", h.LeaveCall)
		callsGroup.GET("/:id/credential", h.CallCredential)
		callsGroup.GET("/:id/events", h.CallEvents)
	}

	incoming := api.Group("/incoming")
	incoming.Use(rbac.RequireAnyRole(rbac.RoleDoctor))
	{
		incoming.GET("/events", h.IncomingEvents)
		incoming.POST("/:id/accept", h.AcceptIncoming)
		incoming.POST("/:id/decline", h.DeclineIncoming)
	}

	admin := api.Group("/admin")
	admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
	{
		admin.DELETE("/calls", h.PurgeCalls)
		admin.GET("/reports/calls", h.CallsReport)
	}

	if h.Flows != nil {
		flows := api.Group("/flows")
		flows.POST("/symptom-check", h.SymptomCheck)
		flows.POST("/first-aid", h.FirstAid)
		flows.POST("/prescription-summary", h.PrescriptionSummary)
		flows.POST("/translate", h.Translate)
	}
}
