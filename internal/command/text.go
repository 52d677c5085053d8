package command

import (
	"fmt"
	"strings"

	"github.com/nugget/signal-relay/internal/lifecycle"
)

const (
	pongText  = "🏓 Pong! Relay is active and running."
	resetText = "🔄 Conversation history cleared! Starting fresh."

	statusReadyText = "✅ AI is ready!\n\nModel: %s\nStatus: Operational"

	modelUsageText = "Usage: !model <name> (e.g. !model llama3.1)\nCurrent model: %s"

	switchingText    = "🔄 Switching to model: %s\nChecking availability..."
	switchedText     = "✅ Now using %s!"
	switchFailedText = "❌ Failed to load %s (%s). Check if Ollama is running."
)

// HelpText lists every command and names the active model.
func HelpText(model string) string {
	var b strings.Builder
	b.WriteString("🤖 Signal AI Relay - Commands:\n\n")
	b.WriteString("• Just chat naturally - I'll respond with AI!\n")
	b.WriteString("• !help - Show this help message\n")
	b.WriteString("• !reset - Clear conversation history\n")
	b.WriteString("• !status - Check AI status\n")
	b.WriteString("• !model [name] - Change model (e.g. !model llama3.1)\n")
	b.WriteString("• !ping - Check if the relay is active\n\n")
	fmt.Fprintf(&b, "Current model: %s\n", model)
	b.WriteString("Powered by Ollama (local & offline)")
	return b.String()
}

func statusNotReady(model string, state lifecycle.State, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "❌ AI model not ready (%s", state)
	if reason != "" {
		fmt.Fprintf(&b, ": %s", reason)
	}
	fmt.Fprintf(&b, ").\n\nModel: %s\n\n", model)
	b.WriteString("Make sure Ollama is running:\n")
	b.WriteString("1. Install: https://ollama.com\n")
	b.WriteString("2. Run: ollama serve\n")
	b.WriteString("3. Type !status again")
	return b.String()
}
