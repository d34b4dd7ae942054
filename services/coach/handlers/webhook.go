// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCoach/services/telegram"
)

// updateProcessingBudget bounds one update's processing after the
// webhook has been acknowledged.
const updateProcessingBudget = 2 * time.Minute

// UpdateDispatcher consumes decoded Telegram updates.
type UpdateDispatcher interface {
	Dispatch(ctx context.Context, update *telegram.Update)
}

// Webhook returns the Telegram update sink.
//
// Description:
//
//	Decodes the update and acknowledges immediately; processing runs in
//	a detached goroutine with its own deadline. Telegram retries
//	deliveries it considers failed, so slow model calls must never hold
//	the webhook response.
//
// Inputs:
//
//	dispatcher - Update consumer. Must not be nil.
//	logger - Structured logger. Must not be nil.
func Webhook(dispatcher UpdateDispatcher, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var update telegram.Update
		if err := c.ShouldBindJSON(&update); err != nil {
			logger.Warn("rejecting malformed webhook payload", "error", err)
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed update"})
			return
		}

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), updateProcessingBudget)
			defer cancel()
			dispatcher.Dispatch(ctx, &update)
		}()

		c.Status(http.StatusOK)
	}
}
