// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianCoach/pkg/logging"
	"github.com/AleutianAI/AleutianCoach/services/coach"
)

// version is stamped at build time via -ldflags.
var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "coach",
		Short: "A Telegram coaching bot for skill training with AI feedback",
		Long: `Coach runs the AleutianCoach Telegram bot: a guided interview,
				gated training sessions, and free-form AI coaching backed by Groq.`,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook server and process Telegram updates",
		Run:   runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the coach build version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// runServe builds the service from environment variables and blocks
// until SIGINT or SIGTERM.
func runServe(cmd *cobra.Command, args []string) {
	// Setup structured logging
	logger, err := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("COACH_LOG_LEVEL")),
		LogDir:  os.Getenv("COACH_LOG_DIR"),
		Service: "coach",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	// Build configuration from environment variables
	cfg := coach.Config{
		Port:              getEnvInt("COACH_PORT", 12310),
		Version:           version,
		WebhookURL:        os.Getenv("COACH_WEBHOOK_URL"),
		WebhookSecret:     os.Getenv("COACH_WEBHOOK_SECRET"),
		TrainerConfigPath: os.Getenv("COACH_TRAINER_CONFIG"),
		RateLimitRequests: getEnvInt("COACH_RATE_LIMIT", 20),
		RateLimitWindow:   getEnvDuration("COACH_RATE_WINDOW", time.Minute),
		ConversationTTL:   getEnvDuration("COACH_CONVERSATION_TTL", time.Hour),
		OTelEndpoint:      getEnvString("OTEL_EXPORTER_OTLP_ENDPOINT", "aleutian-otel-collector:4317"),
		GinMode:           os.Getenv("GIN_MODE"),
	}

	slog.Info("Starting coach",
		"port", cfg.Port,
		"version", cfg.Version,
		"webhook_url", cfg.WebhookURL,
	)

	svc, err := coach.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create coach service: %v", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run the server (blocks until shutdown)
	if err := svc.Run(ctx); err != nil {
		log.Fatalf("Coach error: %v", err)
	}
}
