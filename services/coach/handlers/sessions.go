// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianCoach/services/coach/session"
)

// SessionView is the admin-facing projection of a live session. User
// answers and hints stay out of it; admin endpoints see shape, not
// content.
type SessionView struct {
	SessionID   string  `json:"session_id"`
	UserID      string  `json:"user_id"`
	State       string  `json:"state"`
	CurrentStep int     `json:"current_step"`
	MaxSteps    int     `json:"max_steps"`
	Progress    float64 `json:"progress"`
	Mode        string  `json:"mode,omitempty"`
	GatesPassed int     `json:"gates_passed"`
	CreatedAt   string  `json:"created_at"`
}

// viewOf builds the projection under the user's registry lock.
func viewOf(registry *session.Registry, user string) (SessionView, bool) {
	var view SessionView
	found := false
	registry.Do(user, func() {
		s := registry.Get(user)
		if s == nil {
			return
		}
		found = true
		view = SessionView{
			SessionID:   s.ID,
			UserID:      s.UserID,
			State:       string(s.State()),
			CurrentStep: s.CurrentStep(),
			MaxSteps:    s.MaxSteps(),
			Progress:    s.Progress(),
			Mode:        string(s.SelectedMode()),
			GatesPassed: s.GatesPassed(),
			CreatedAt:   s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		}
	})
	return view, found
}

// ListSessions returns every live training session.
func ListSessions(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshot := registry.Snapshot()
		users := make([]string, 0, len(snapshot))
		for user := range snapshot {
			users = append(users, user)
		}
		sort.Strings(users)

		views := make([]SessionView, 0, len(users))
		for _, user := range users {
			if view, ok := viewOf(registry, user); ok {
				views = append(views, view)
			}
		}
		c.JSON(http.StatusOK, gin.H{"count": len(views), "sessions": views})
	}
}

// GetSession returns one user's live session.
func GetSession(registry *session.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.Param("userId")
		view, ok := viewOf(registry, user)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for user"})
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// DeleteSession force-cancels one user's live session.
func DeleteSession(trainer *session.Trainer, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.Param("userId")
		if !trainer.Cancel(c.Request.Context(), user) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no session for user"})
			return
		}
		logger.Info("session cancelled by admin", "user", user)
		c.JSON(http.StatusOK, gin.H{"status": "cancelled", "user_id": user})
	}
}
