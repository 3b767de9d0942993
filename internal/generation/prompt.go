// Package generation turns a lifecycle record into the persona's reply.
package generation

import (
	"strings"

	"github.com/SPCG-NEST/daemon/internal/identity"
	"github.com/SPCG-NEST/daemon/internal/lifecycle"
)

// DefaultSystemPrompt frames every persona. A character's own system prompt
// is rendered into the user prompt as its identity.
const DefaultSystemPrompt = `You are an AI agent operating within a framework that provides you with:
- An identity (who you are and your core traits)
- Context (memories and relevant information)
- Tools (capabilities you can use)

# Core Principles
1. Maintain consistent personality and behavior aligned with your identity
2. Use provided context to inform your responses
3. Consider past interactions when making decisions
4. Use available tools appropriately to accomplish tasks

# Response Protocol
Stay true to your identity, weave relevant context in naturally and keep responses concise.
If you do not know something, do not make it up. Ask about it or leave it aside.

# Memory Usage Guidelines
- Reference provided memories naturally, as a person would recall information
- Do not mention that you are retrieving memories

# Tool Usage Guidelines
- Only use tools that have been explicitly provided
- Stay in character while using them`

// BuildPrompt renders the user prompt for one turn.
func BuildPrompt(c identity.Character, rec lifecycle.Record) string {
	var b strings.Builder
	section := func(title string, lines ...string) {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("# ")
		b.WriteString(title)
		b.WriteString("\n")
		b.WriteString(strings.Join(lines, "\n"))
	}

	section("Name", c.Name)
	section("Identity Prompt", c.SystemPrompt)
	if len(c.Bio) > 0 {
		section("Bio", c.Bio...)
	}
	if len(c.Lore) > 0 {
		section("Lore", c.Lore...)
	}
	section("User Message", rec.Message)
	section("Context", rec.Context...)

	tools := make([]string, 0, len(rec.Tools))
	for _, t := range rec.Tools {
		tools = append(tools, "- "+t.Name+": "+t.Description)
	}
	section("Tools", tools...)
	return b.String()
}
