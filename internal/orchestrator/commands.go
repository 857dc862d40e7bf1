package orchestrator

import (
	"strconv"
	"strings"
)

// CommandKind is the closed set of things a user message can mean.
type CommandKind int

const (
	// PlainMessage is anything that is not a recognized command; it goes
	// to the AI agent.
	PlainMessage CommandKind = iota
	// Help shows the usage card.
	Help
	// SelectAgentMenu shows the agent picker card.
	SelectAgentMenu
	// SelectAgentByIndex picks an agent by its 1-based position in the
	// picker. Command.Index carries the position.
	SelectAgentByIndex
	// NewConversation closes the current conversation and starts fresh.
	NewConversation
)

// Command is a classified user message.
type Command struct {
	Kind  CommandKind
	Index int
}

// Classify maps message text to a command. Slash commands are matched
// case-insensitively; the Chinese keywords match exactly after trimming.
// A bare number selects an agent by position, but a number outside
// [1, agentCount] is treated as an ordinary message rather than an error.
func Classify(text string, agentCount int) Command {
	trimmed := strings.TrimSpace(text)
	switch strings.ToLower(trimmed) {
	case "/help":
		return Command{Kind: Help}
	case "/agent", "/agents":
		return Command{Kind: SelectAgentMenu}
	case "/new":
		return Command{Kind: NewConversation}
	}
	switch trimmed {
	case "帮助":
		return Command{Kind: Help}
	case "选择助手":
		return Command{Kind: SelectAgentMenu}
	case "新对话":
		return Command{Kind: NewConversation}
	}

	if n, err := strconv.Atoi(trimmed); err == nil && isPlainDigits(trimmed) {
		if n >= 1 && n <= agentCount {
			return Command{Kind: SelectAgentByIndex, Index: n}
		}
	}
	return Command{Kind: PlainMessage}
}

// isPlainDigits rejects signs and whitespace that Atoi would accept.
func isPlainDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
