// Package command recognizes relay commands in inbound text and runs
// them. Anything that is not a command is a chat turn.
package command

import (
	"strings"
	"unicode"
)

// Kind identifies a command.
type Kind int

const (
	// Chat is free-form text for the model.
	Chat Kind = iota
	Help
	Ping
	Reset
	Status
	// Model switches the active model. Arg holds the requested name,
	// which may be empty.
	Model
)

var kindNames = map[Kind]string{
	Chat:   "chat",
	Help:   "help",
	Ping:   "ping",
	Reset:  "reset",
	Status: "status",
	Model:  "model",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Command is the parsed form of one inbound message.
type Command struct {
	Kind Kind
	// Arg is the model name for Model, in its original case.
	Arg string
	// Text is the trimmed message, used as the user turn for Chat.
	Text string
}

// Parse classifies text. Surrounding whitespace is trimmed and a
// single leading '!' or '/' is optional. Command words match
// case-insensitively and must stand alone, so "!modelx" and "/helpme"
// are chat.
func Parse(text string) Command {
	trimmed := strings.TrimSpace(text)
	cmd := Command{Kind: Chat, Text: trimmed}

	body := trimmed
	if strings.HasPrefix(body, "!") || strings.HasPrefix(body, "/") {
		body = body[1:]
	}

	switch strings.ToLower(body) {
	case "help":
		cmd.Kind = Help
		return cmd
	case "ping":
		cmd.Kind = Ping
		return cmd
	case "reset":
		cmd.Kind = Reset
		return cmd
	case "status":
		cmd.Kind = Status
		return cmd
	case "model":
		cmd.Kind = Model
		return cmd
	}

	const word = "model"
	if len(body) > len(word) && strings.EqualFold(body[:len(word)], word) {
		rest := body[len(word):]
		if r := []rune(rest)[0]; unicode.IsSpace(r) {
			cmd.Kind = Model
			cmd.Arg = strings.TrimSpace(rest)
		}
	}
	return cmd
}
