// Copyright (C) 2025 AppForge AI
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/appforge-ai/appforge/pkg/extensions"
	"github.com/appforge-ai/appforge/services/agent"
	"github.com/appforge-ai/appforge/services/orchestrator/handlers"
	"github.com/appforge-ai/appforge/services/orchestrator/middleware"
)

func SetupRoutes(router *gin.Engine, dir *agent.Directory, opts extensions.ServiceOptions) {
	router.GET("/health", handlers.HandleHealth)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API version 1 group
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(opts.AuthProvider))
	{
		v1.POST("/agent", handlers.HandleAgentKickoff(dir))
		v1.GET("/agent/:agentId/ws", handlers.HandleAgentWebsocket(dir))
		v1.GET("/agent/:agentId/progress", handlers.HandleAgentProgress(dir))
		v1.GET("/agent/:agentId/connect", handlers.HandleAgentConnect(dir))
	}
}
