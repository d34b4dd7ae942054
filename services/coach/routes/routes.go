// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianCoach/services/coach/handlers"
	"github.com/AleutianAI/AleutianCoach/services/coach/middleware"
	"github.com/AleutianAI/AleutianCoach/services/coach/session"
)

// SetupRoutes wires every endpoint of the coach service.
func SetupRoutes(router *gin.Engine, dispatcher handlers.UpdateDispatcher,
	registry *session.Registry, trainer *session.Trainer,
	webhookSecret, version string, logger *slog.Logger) {

	router.GET("/health", handlers.HealthCheck)
	router.GET("/version", handlers.Version(version))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhook",
		middleware.WebhookAuth(webhookSecret),
		handlers.Webhook(dispatcher, logger))

	// API version 1 group
	v1 := router.Group("/v1")
	{
		// Session administration routes
		sessions := v1.Group("/sessions")
		{
			sessions.GET("", handlers.ListSessions(registry))
			sessions.GET("/:userId", handlers.GetSession(registry))
			sessions.DELETE("/:userId", handlers.DeleteSession(trainer, logger))
		}
	}
}
