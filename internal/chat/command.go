package chat

import "strings"

// CommandSigil marks inbound text as a directive to the sender's own client.
const CommandSigil = "/"

// Directive is the closed set of recognised commands.
type Directive int

const (
	DirectiveUnknown Directive = iota
	DirectiveClear
	DirectiveLogout
)

var directives = map[string]Directive{
	"/clear":  DirectiveClear,
	"/logout": DirectiveLogout,
}

func (d Directive) String() string {
	switch d {
	case DirectiveClear:
		return "clear"
	case DirectiveLogout:
		return "logout"
	default:
		return "unknown"
	}
}

// Command is a parsed sigil-prefixed message.
type Command struct {
	Directive Directive
	Text      string
}

// ParseCommand reports whether text is a command and, if so, which one.
// Matching is exact and case-sensitive on the whole text.
func ParseCommand(text string) (Command, bool) {
	if !strings.HasPrefix(text, CommandSigil) {
		return Command{}, false
	}
	return Command{Directive: directives[text], Text: text}, true
}

// Reply is the single payload sent back to the issuing connection. Commands
// never touch room state.
func (c Command) Reply() Payload {
	switch c.Directive {
	case DirectiveClear, DirectiveLogout:
		return Payload{Type: KindCommand.String(), Command: c.Directive.String()}
	default:
		return Payload{Type: KindSystem.String(), Content: "Unknown command: " + c.Text}
	}
}
