// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// Tests for webhook authentication middleware

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuthRouter(secret string) *gin.Engine {
	router := gin.New()
	router.POST("/webhook", WebhookAuth(secret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func TestWebhookAuth_AcceptsMatchingSecret(t *testing.T) {
	router := newAuthRouter("s3cret")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhook", nil)
	req.Header.Set("X-Telegram-Bot-Api-Secret-Token", "s3cret")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestWebhookAuth_RejectsWrongSecret(t *testing.T) {
	router := newAuthRouter("s3cret")

	for _, header := range []string{"", "wrong", "s3cret2"} {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("POST", "/webhook", nil)
		if header != "" {
			req.Header.Set("X-Telegram-Bot-Api-Secret-Token", header)
		}
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusUnauthorized, w.Code, "header %q", header)
	}
}

func TestWebhookAuth_EmptySecretPassesThrough(t *testing.T) {
	router := newAuthRouter("")

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("POST", "/webhook", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}
