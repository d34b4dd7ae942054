// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package text handles untrusted chat text: input sanitation before it
// reaches prompts, PII masking before anything is cached or logged, and
// splitting long replies to fit transport message limits.
package text

import (
	"regexp"
	"strings"
	"unicode"
)

// MaxInputLength caps sanitized user input.
const MaxInputLength = 2000

// MaxMessageLength is the Telegram per-message text limit.
const MaxMessageLength = 4096

// dangerousChars are stripped from user input before it can reach a
// prompt or a formatted reply.
var dangerousChars = regexp.MustCompile("[<>{}`|\\\\\\-\t]")

// SanitizeInput strips markup-significant characters, drops anything
// unprintable except newlines, and caps the result at maxLength.
// maxLength <= 0 uses MaxInputLength.
func SanitizeInput(input string, maxLength int) string {
	if maxLength <= 0 {
		maxLength = MaxInputLength
	}
	if input == "" {
		return ""
	}

	cleaned := dangerousChars.ReplaceAllString(input, "")

	var b strings.Builder
	b.Grow(len(cleaned))
	for _, r := range cleaned {
		if unicode.IsPrint(r) || r == '\n' || r == '\r' {
			b.WriteRune(r)
		}
	}
	out := b.String()

	// Cap by runes so a multi-byte boundary is never split.
	runes := []rune(out)
	if len(runes) > maxLength {
		out = string(runes[:maxLength])
	}
	return out
}

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
)

// MaskPII replaces email addresses and phone numbers with fixed
// placeholders. Idempotent: the placeholders themselves never re-match,
// so masking already-masked text is a no-op.
func MaskPII(input string) string {
	out := emailPattern.ReplaceAllString(input, "[EMAIL]")
	out = phonePattern.ReplaceAllString(out, "[PHONE]")
	return out
}

// SplitMessage breaks text into transport-sized chunks, preferring
// sentence boundaries. maxLength <= 0 uses MaxMessageLength. Chunks that
// still exceed the limit after sentence packing are split hard.
func SplitMessage(text string, maxLength int) []string {
	if maxLength <= 0 {
		maxLength = MaxMessageLength
	}
	if len(text) <= maxLength {
		return []string{text}
	}

	// Splitting eats the ". " separators, so put one back on every
	// fragment except the last. The final fragment keeps whatever
	// terminator the original text had, including none.
	sentences := strings.Split(text, ". ")
	var parts []string
	current := ""
	for i, sentence := range sentences {
		if i < len(sentences)-1 {
			sentence += ". "
		}
		if len(current)+len(sentence) <= maxLength {
			current += sentence
			continue
		}
		if current != "" {
			parts = append(parts, strings.TrimSpace(current))
		}
		current = sentence
	}
	if current != "" {
		parts = append(parts, strings.TrimSpace(current))
	}

	var final []string
	for _, part := range parts {
		for len(part) > maxLength {
			cut := maxLength
			// Back off to a rune boundary.
			for cut > 0 && !isRuneStart(part[cut]) {
				cut--
			}
			final = append(final, part[:cut])
			part = part[cut:]
		}
		final = append(final, part)
	}
	return final
}

// isRuneStart reports whether b begins a UTF-8 sequence.
func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
