// Package command parses the text transport's line protocol. Lines starting
// with "/" are commands, split on the first space; anything else is chat.
package command

import (
	"fmt"
	"strings"
)

// Command is one parsed input line.
type Command interface{ isCommand() }

// List asks for the current room names.
type List struct{}

// Join switches the session into a room.
type Join struct{ Room string }

// Name sets the display name used to prefix chat text.
type Name struct{ Name string }

// Chat is a plain chat line.
type Chat struct{ Text string }

// Notice is a parse-level reply for the peer: a usage hint for a known
// command missing its argument, or an unknown-command report. The session
// echoes it back and keeps the connection open.
type Notice struct{ Text string }

func (List) isCommand()   {}
func (Join) isCommand()   {}
func (Name) isCommand()   {}
func (Chat) isCommand()   {}
func (Notice) isCommand() {}

// Parse interprets one input line. The line is trimmed before matching.
func Parse(line string) Command {
	m := strings.TrimSpace(line)
	if !strings.HasPrefix(m, "/") {
		return Chat{Text: m}
	}

	parts := strings.SplitN(m, " ", 2)
	switch parts[0] {
	case "/list":
		return List{}
	case "/join":
		if len(parts) != 2 {
			return Notice{Text: "!!! room name is required"}
		}
		return Join{Room: parts[1]}
	case "/name":
		if len(parts) != 2 {
			return Notice{Text: "!!! name is required"}
		}
		return Name{Name: parts[1]}
	default:
		return Notice{Text: fmt.Sprintf("!!! unknown command: %q", m)}
	}
}
