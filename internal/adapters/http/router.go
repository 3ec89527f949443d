// Package http wires the gin router: client-token cookie, the WS
// signal endpoint, and the REST administration surface.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"callroom/internal/adapters/signal"
	"callroom/internal/app"
	"callroom/internal/config"
	"callroom/internal/domain"
)

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware assigns a durable browser token. The WS layer
// uses it as the session id, so the cookie has to exist before upgrade.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = genClientToken()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// identifier is the binding rule for room ids and user ids: the
// charset check lives in domain, length limits live on the tags.
func identifierRule(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	for i := 0; i < len(s); i++ {
		if !domain.IsIdentifierChar(s[i]) {
			return false
		}
	}
	return true
}

func SetupRouter(ctx context.Context, cfg *config.Config, coord *app.Coordinator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(ClientTokenMiddleware())

	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("identifier", identifierRule)
	}

	if cfg.StaticPath != "" {
		r.Static("/static", cfg.StaticPath)
		r.GET("/", func(c *gin.Context) {
			c.File(cfg.StaticPath + "/index.html")
		})
	}

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")

	ctrl := signal.NewSignalWSController(coord)
	api.GET("/ws/signal", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws signal endpoint hit")
		ctrl.HandleSignal(ctx, c, cfg.SendQueue, cfg.ReadLimit)
	})

	rooms := &RoomController{Coord: coord}
	api.GET("/rooms", rooms.List)
	api.POST("/rooms", rooms.Create)
	api.GET("/rooms/lobby/list", rooms.Lobby)
	api.GET("/rooms/:roomId", rooms.Get)
	api.DELETE("/rooms/:roomId", rooms.Close)
	api.PUT("/rooms/:roomId/settings", rooms.UpdateSettings)
	api.GET("/rooms/:roomId/messages", rooms.Messages)

	mod := &ModerationController{Coord: coord}
	api.POST("/rooms/:roomId/kick", mod.Kick)
	api.POST("/rooms/:roomId/ban", mod.Ban)
	api.POST("/rooms/:roomId/unban", mod.Unban)
	api.GET("/rooms/:roomId/bans", mod.Bans)
	api.POST("/rooms/:roomId/moderators", mod.Grant)
	api.DELETE("/rooms/:roomId/moderators/:userId", mod.Revoke)

	return r
}
