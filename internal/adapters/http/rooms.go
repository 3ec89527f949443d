package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"callroom/internal/app"
	"callroom/internal/domain"
)

// writeErr maps coordinator errors onto HTTP statuses. Internal detail
// is logged, not leaked.
func writeErr(c *gin.Context, err error) {
	var banErr *app.BanError
	switch {
	case errors.As(err, &banErr):
		c.JSON(http.StatusForbidden, gin.H{"error": "banned", "reason": banErr.Reason, "expiresAt": banErr.ExpiresAt})
	case errors.Is(err, app.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, app.ErrConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "already exists"})
	case errors.Is(err, app.ErrRoomFull):
		c.JSON(http.StatusConflict, gin.H{"error": "room is full"})
	case errors.Is(err, app.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "not allowed"})
	case errors.Is(err, app.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	case errors.Is(err, app.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		log.Error().Err(err).Str("module", "adapters.http").Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

type RoomController struct {
	Coord *app.Coordinator
}

type roomDTO struct {
	RoomID      domain.RoomID     `json:"roomId"`
	Name        string            `json:"name"`
	MaxMembers  int               `json:"maxMembers"`
	HasPassword bool              `json:"hasPassword"`
	Private     bool              `json:"isPrivate"`
	Owner       domain.Identity   `json:"owner"`
	Active      bool              `json:"active"`
	Users       []domain.Identity `json:"users"`
	UserCount   int               `json:"userCount"`
}

func toRoomDTO(v app.RoomView) roomDTO {
	return roomDTO{
		RoomID:      v.Room.RoomID,
		Name:        v.Room.Name,
		MaxMembers:  v.Room.MaxMembers,
		HasPassword: v.Room.HasPassword,
		Private:     v.Room.Private,
		Owner:       v.Room.Owner,
		Active:      v.Room.Active,
		Users:       v.Users,
		UserCount:   len(v.Users),
	}
}

func (rc *RoomController) List(c *gin.Context) {
	views, err := rc.Coord.ListRooms(c.Request.Context(), false)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]roomDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toRoomDTO(v))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

// Lobby lists only public rooms, for the pre-join browser.
func (rc *RoomController) Lobby(c *gin.Context) {
	views, err := rc.Coord.ListRooms(c.Request.Context(), true)
	if err != nil {
		writeErr(c, err)
		return
	}
	out := make([]roomDTO, 0, len(views))
	for _, v := range views {
		out = append(out, toRoomDTO(v))
	}
	c.JSON(http.StatusOK, gin.H{"rooms": out})
}

type createRoomReq struct {
	RoomID      string `json:"roomId" binding:"omitempty,min=3,max=50,identifier"`
	Name        string `json:"name" binding:"omitempty,max=100"`
	MaxMembers  int    `json:"maxMembers" binding:"omitempty,min=2,max=50"`
	HasPassword bool   `json:"hasPassword"`
	Private     bool   `json:"isPrivate"`
	Owner       string `json:"userId" binding:"omitempty,min=1,max=50,identifier"`
}

func (rc *RoomController) Create(c *gin.Context) {
	var req createRoomReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := rc.Coord.CreateRoom(c.Request.Context(), app.CreateRoomParams{
		RoomID:      domain.RoomID(req.RoomID),
		Name:        req.Name,
		Capacity:    req.MaxMembers,
		HasPassword: req.HasPassword,
		Private:     req.Private,
		Owner:       domain.Identity(req.Owner),
	})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusCreated, toRoomDTO(app.RoomView{Room: *room, Users: []domain.Identity{}}))
}

func (rc *RoomController) Get(c *gin.Context) {
	view, err := rc.Coord.RoomInfo(c.Request.Context(), domain.RoomID(c.Param("roomId")))
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomDTO(*view))
}

func (rc *RoomController) Close(c *gin.Context) {
	if err := rc.Coord.CloseRoom(c.Request.Context(), domain.RoomID(c.Param("roomId"))); err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

type updateSettingsReq struct {
	UserID   string  `json:"userId" binding:"required,min=1,max=50,identifier"`
	Name     *string `json:"name" binding:"omitempty,max=100"`
	Capacity *int    `json:"maxMembers" binding:"omitempty,min=2,max=50"`
	Private  *bool   `json:"isPrivate"`
}

func (rc *RoomController) UpdateSettings(c *gin.Context) {
	var req updateSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	room, err := rc.Coord.UpdateSettings(c.Request.Context(), domain.RoomID(c.Param("roomId")),
		domain.Identity(req.UserID), app.SettingsUpdate{Name: req.Name, Capacity: req.Capacity, Private: req.Private})
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, toRoomDTO(app.RoomView{Room: *room, Users: []domain.Identity{}}))
}

func (rc *RoomController) Messages(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	msgs, total, err := rc.Coord.Messages(c.Request.Context(), domain.RoomID(c.Param("roomId")), limit, offset)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "total": total})
}
