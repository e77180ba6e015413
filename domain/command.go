package domain

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
)

// CommandPrefix marks a line as a command instead of chat text.
const CommandPrefix = "/"

const (
	UsersCommand = "/users"
	QuitCommand  = "/quit"
	GoodbyeReply = "Goodbye!\n"
)

// CommandResult is the local answer to a command line.
// Quit asks the caller to close the connection once Response is written.
type CommandResult struct {
	Response string
	Quit     bool
}

func IsCommand(line string) bool {
	return strings.HasPrefix(line, CommandPrefix)
}

// Interpret maps a trimmed command line and the current list of connected
// names to a response. It has no side effects.
func Interpret(line string, names []DisplayName) CommandResult {
	switch line {
	case UsersCommand:
		joined := strings.Join(lo.Map(names, func(n DisplayName, _ int) string {
			return n.String()
		}), ", ")
		return CommandResult{Response: fmt.Sprintf("Connected users: %s\n", joined)}
	case QuitCommand:
		return CommandResult{Response: GoodbyeReply, Quit: true}
	default:
		return CommandResult{Response: fmt.Sprintf("Unknown command: %s\n", line)}
	}
}
