package httpapi

import (
	"errors"
	"net/http"

	"teleconsult/internal/calls"

	"github.com/gin-gonic/gin"
)

type createCallRequest struct {
	ReceiverID   string `json:"receiverId"`
	ReceiverName string `json:"receiverName"`
}

// CreateCall places a call from the authenticated user.
func (h Handlers) CreateCall(c *gin.Context) {
	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	a := actor(c)
	rec, err := h.Calls.Create(c.Request.Context(), a, calls.CreateRequest{
		Caller:   calls.Party{ID: a.UserID, Name: a.Name},
		Receiver: calls.Party{ID: req.ReceiverID, Name: req.ReceiverName},
	})
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

func (h Handlers) GetCall(c *gin.Context) {
	rec, err := h.Calls.Get(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// AcceptCall answers a ringing call. When the credential cannot be issued the
// call is failed and the failed record is returned with 502.
func (h Handlers) AcceptCall(c *gin.Context) {
	rec, err := h.Calls.Accept(c.Request.Context(), actor(c), c.Param("id"))
	if errors.Is(err, calls.ErrCredentialIssuance) && rec.ID != "" {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error(), "record": rec})
		return
	}
	h.respond(c, rec, err)
}

func (h Handlers) DeclineCall(c *gin.Context) {
	rec, err := h.Calls.Decline(c.Request.Context(), actor(c), c.Param("id"))
	h.respond(c, rec, err)
}

func (h Handlers) CancelCall(c *gin.Context) {
	rec, err := h.Calls.Cancel(c.Request.Context(), actor(c), c.Param("id"))
	h.respond(c, rec, err)
}

func (h Handlers) JoinCall(c *gin.Context) {
	rec, err := h.Calls.Join(c.Request.Context(), actor(c), c.Param("id"))
	h.respond(c, rec, err)
}

func (h Handlers) LeaveCall(c *gin.Context) {
	rec, err := h.Calls.Leave(c.Request.Context(), actor(c), c.Param("id"))
	h.respond(c, rec, err)
}

// CallCredential issues a personal room credential for a live call.
func (h Handlers) CallCredential(c *gin.Context) {
	cred, err := h.Calls.JoinCredential(c.Request.Context(), actor(c), c.Param("id"))
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"token":     cred.Token,
		"link":      cred.Link,
		"tokenId":   cred.TokenID,
		"expiresAt": cred.ExpiresAt,
	})
}

// PurgeCalls deletes every call record. Admin only.
func (h Handlers) PurgeCalls(c *gin.Context) {
	n, err := h.Calls.Purge(c.Request.Context(), actor(c))
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deletedCount": n})
}

func (h Handlers) respond(c *gin.Context, rec calls.Record, err error) {
	if err != nil {
		callError(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}
