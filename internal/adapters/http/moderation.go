package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"callroom/internal/app"
	"callroom/internal/domain"
)

// ModerationController exposes kick/ban/moderator management over REST.
// The acting identity is caller-supplied here; the WS paths derive it
// from the transport binding instead.
type ModerationController struct {
	Coord *app.Coordinator
}

type kickReq struct {
	UserID string `json:"userId" binding:"required,min=1,max=50,identifier"`
	Target string `json:"targetUserId" binding:"required,min=1,max=50,identifier"`
}

func (mc *ModerationController) Kick(c *gin.Context) {
	var req kickReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := mc.Coord.Kick(c.Request.Context(), domain.RoomID(c.Param("roomId")),
		domain.Identity(req.UserID), domain.Identity(req.Target))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "kicked"})
}

type banReq struct {
	UserID string `json:"userId" binding:"required,min=1,max=50,identifier"`
	Target string `json:"targetUserId" binding:"required,min=1,max=50,identifier"`
	Reason string `json:"reason" binding:"omitempty,max=500"`
	// Zero or absent means permanent.
	DurationHours int `json:"durationHours" binding:"omitempty,min=0"`
}

func (mc *ModerationController) Ban(c *gin.Context) {
	var req banReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ban, err := mc.Coord.Ban(c.Request.Context(), domain.RoomID(c.Param("roomId")),
		domain.Identity(req.UserID), domain.Identity(req.Target),
		req.Reason, time.Duration(req.DurationHours)*time.Hour)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "banned", "expiresAt": ban.ExpiresAt})
}

type unbanReq struct {
	UserID string `json:"userId" binding:"required,min=1,max=50,identifier"`
	Target string `json:"targetUserId" binding:"required,min=1,max=50,identifier"`
}

func (mc *ModerationController) Unban(c *gin.Context) {
	var req unbanReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := mc.Coord.Unban(c.Request.Context(), domain.RoomID(c.Param("roomId")),
		domain.Identity(req.UserID), domain.Identity(req.Target))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "unbanned"})
}

func (mc *ModerationController) Bans(c *gin.Context) {
	bans, err := mc.Coord.Bans(c.Request.Context(), domain.RoomID(c.Param("roomId")))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bans": bans})
}

type grantReq struct {
	UserID      string                `json:"userId" binding:"required,min=1,max=50,identifier"`
	Target      string                `json:"targetUserId" binding:"required,min=1,max=50,identifier"`
	Permissions *domain.PermissionSet `json:"permissions"`
}

func (mc *ModerationController) Grant(c *gin.Context) {
	var req grantReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := mc.Coord.GrantModerator(c.Request.Context(), domain.RoomID(c.Param("roomId")),
		domain.Identity(req.UserID), domain.Identity(req.Target), req.Permissions)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "granted"})
}

type revokeReq struct {
	UserID string `json:"userId" binding:"required,min=1,max=50,identifier"`
}

func (mc *ModerationController) Revoke(c *gin.Context) {
	var req revokeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := mc.Coord.RevokeModerator(c.Request.Context(), domain.RoomID(c.Param("roomId")),
		domain.Identity(req.UserID), domain.Identity(c.Param("userId")))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}
