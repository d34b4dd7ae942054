// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package dispatch

import "strings"

// Tool is a selectable AI assistant persona. Free text outside a
// training session is answered with the active tool's system prompt,
// and cached responses are keyed per tool.
type Tool struct {
	// Key identifies the tool in callbacks, cache keys, and /tool args.
	Key string

	// Title is the user-facing label.
	Title string

	// Audience groups the menu: "personal" or "business".
	Audience string

	// Prompt is the system prompt sent with every request.
	Prompt string
}

// aiTools is the selectable tool library, menu order preserved.
var aiTools = []Tool{
	{
		Key:      "grimoire",
		Title:    "🔮 Grimoire",
		Audience: "personal",
		Prompt: "You are Grimoire, a reflective journaling companion. Help the user " +
			"untangle thoughts, name feelings, and find one small next step. Warm, never preachy.",
	},
	{
		Key:      "analyzer",
		Title:    "📈 Analyzer",
		Audience: "personal",
		Prompt: "You are a personal analytics assistant. Break the user's situation into " +
			"factors, weigh them, and give a structured recommendation with clear trade-offs.",
	},
	{
		Key:      "coach",
		Title:    "🧘 Coach",
		Audience: "personal",
		Prompt: "You are a friendly, practical personal coach. Answer concisely and " +
			"concretely; prefer actionable advice over theory.",
	},
	{
		Key:      "generator",
		Title:    "💡 Generator",
		Audience: "personal",
		Prompt: "You are an idea generator. Produce varied, concrete options fast - " +
			"numbered lists, no filler, at least five distinct directions per request.",
	},
	{
		Key:      "negotiator",
		Title:    "🗣️ Negotiator",
		Audience: "business",
		Prompt: "You are a negotiation advisor. Identify interests behind positions, " +
			"suggest openings, concessions, and BATNA framing for the user's scenario.",
	},
	{
		Key:      "editor",
		Title:    "📝 Editor",
		Audience: "business",
		Prompt: "You are a sharp text editor. Rewrite the user's text to be clearer and " +
			"shorter while keeping their voice. Show the revision first, then 2-3 notes.",
	},
	{
		Key:      "marketer",
		Title:    "🎯 Marketer",
		Audience: "business",
		Prompt: "You are a marketing strategist. Give positioning, audience, and channel " +
			"advice grounded in the user's product; always end with one testable experiment.",
	},
	{
		Key:      "hr",
		Title:    "🚀 HR Recruiter",
		Audience: "business",
		Prompt: "You are an HR and hiring advisor. Help with job descriptions, screening " +
			"questions, interview structure, and candidate evaluation rubrics.",
	},
}

// defaultTool is the fallback persona when the user never picked one.
var defaultTool = Tool{
	Key:      "chat",
	Title:    "🤖 Coach",
	Audience: "personal",
	Prompt: "You are a friendly, practical personal coach. " +
		"Answer concisely and concretely; prefer actionable advice over theory.",
}

// toolByKey resolves a tool key, false when unknown. The default tool's
// own key resolves too so "tool:chat" callbacks round-trip.
func toolByKey(key string) (Tool, bool) {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == defaultTool.Key {
		return defaultTool, true
	}
	for _, tool := range aiTools {
		if tool.Key == key {
			return tool, true
		}
	}
	return Tool{}, false
}

// renderToolMenu lists the tool library grouped by audience.
func renderToolMenu() string {
	var b strings.Builder
	b.WriteString("*Pick an AI assistant:*\n\n_For yourself:_\n")
	for _, tool := range aiTools {
		if tool.Audience == "personal" {
			b.WriteString("• /tool " + tool.Key + " - " + tool.Title + "\n")
		}
	}
	b.WriteString("\n_For work:_\n")
	for _, tool := range aiTools {
		if tool.Audience == "business" {
			b.WriteString("• /tool " + tool.Key + " - " + tool.Title + "\n")
		}
	}
	b.WriteString("\nOr just write to me and the default coach answers.")
	return b.String()
}
