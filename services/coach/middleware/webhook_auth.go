// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the coach service.
//
// # Webhook Authentication
//
// Telegram echoes the secret registered with setWebhook back on every
// delivery in the X-Telegram-Bot-Api-Secret-Token header. The webhook
// middleware compares it in constant time and rejects everything else,
// so only Telegram's servers can feed the bot updates.
package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// secretTokenHeader is the header Telegram echoes the webhook secret in.
const secretTokenHeader = "X-Telegram-Bot-Api-Secret-Token"

// WebhookAuth rejects webhook deliveries missing the shared secret.
//
// Description:
//
//	With an empty secret the middleware is a pass-through; this keeps
//	local development (polling a fake API, no registered webhook)
//	working without configuration.
func WebhookAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		got := c.GetHeader(secretTokenHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}
