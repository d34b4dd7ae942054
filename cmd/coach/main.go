// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command coach starts the AleutianCoach Telegram bot server.
//
// This is the main entry point for the containerized coach service.
// It reads configuration from environment variables and starts the server.
//
// # Environment Variables
//
//   - COACH_PORT: HTTP server port (default: 12310)
//   - COACH_WEBHOOK_URL: Public HTTPS URL for Telegram updates (optional)
//   - COACH_WEBHOOK_SECRET: Shared webhook secret token (optional)
//   - COACH_TRAINER_CONFIG: YAML curriculum override path (optional)
//   - COACH_RATE_LIMIT: Per-user messages per minute (default: 20)
//   - COACH_LOG_LEVEL: Minimum log level - debug, info, warn, error (default: info)
//   - COACH_LOG_DIR: Mirror logs into daily files in this directory (optional)
//   - TELEGRAM_BOT_TOKEN: Telegram Bot API token (or Podman secret)
//   - GROQ_API_KEY: Groq API key (or Podman secret)
//   - GROQ_MODEL: Groq model name (default: llama-3.1-8b-instant)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (default: aleutian-otel-collector:4317)
//
// # Usage
//
//	# Build
//	go build -o coach ./cmd/coach
//
//	# Run
//	./coach serve
//
//	# Or via container
//	podman-compose up coach
package main

import (
	"log"
	"os"
	"strconv"
	"time"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns the environment variable as a duration or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
