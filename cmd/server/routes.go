package main

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/Nixie-Tech-LLC/chorus/internal/broadcast"
	"github.com/Nixie-Tech-LLC/chorus/internal/channel"
	"github.com/Nixie-Tech-LLC/chorus/internal/config"
	"github.com/Nixie-Tech-LLC/chorus/internal/db"
	"github.com/Nixie-Tech-LLC/chorus/internal/fleet"
	nodesapi "github.com/Nixie-Tech-LLC/chorus/internal/http/api/nodes"
	"github.com/Nixie-Tech-LLC/chorus/internal/http/middleware"
	"github.com/Nixie-Tech-LLC/chorus/internal/timeline"
)

// RegisterRoutes sets up all application routes
func RegisterRoutes(r *gin.Engine, cfg *config.Config, store db.Store, registry *fleet.Registry, resolver *timeline.Resolver, publisher *broadcast.Publisher) {
	// CORS
	r.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool { return true },
		AllowMethods: []string{
			"GET",
			"POST",
			"PUT",
			"PATCH",
			"DELETE",
			"OPTIONS",
			"HEAD",
		},
		AllowHeaders: []string{
			"Origin",
			"Content-Type",
			"Authorization",
			"Accept",
			"X-Node-Secret",
		},
		AllowCredentials: false,
	}))

	ctl := nodesapi.NewController(store, registry, resolver, publisher)
	channelServer := channel.NewServer(store, registry)

	// agent endpoints: the websocket channel authenticates itself, the
	// pairing announcement is public by design
	agent := r.Group("/api/agent")
	agent.GET("/channel", channelServer.Handle())
	nodesapi.RegisterAgentRoutes(agent, ctl)

	// timeline read: admin bearer token or the node's own secret header
	timelineGroup := r.Group("/api")
	timelineGroup.Use(middleware.NodeOrJWTMiddleware(cfg.JWTSecret, store))
	nodesapi.RegisterTimelineRoute(timelineGroup, ctl)

	// operator endpoints require a valid admin JWT
	admin := r.Group("/api/admin")
	admin.Use(middleware.JWTMiddleware(cfg.JWTSecret, store))
	nodesapi.RegisterAdminRoutes(admin, ctl)
}
