package serialmux

import "strings"

// ReplyKind classifies a line printed by the board firmware.
type ReplyKind int

const (
	// ReplyOther is any informational line (banner, echo, position report).
	ReplyOther ReplyKind = iota
	// ReplyOK acknowledges the last command.
	ReplyOK
	// ReplyError rejects the last command.
	ReplyError
)

// ClassifyReply inspects a line and reports whether it acknowledges or
// rejects a command. Matching is case-insensitive and ignores surrounding
// whitespace; "ok" may be followed by extra status text.
func ClassifyReply(line string) ReplyKind {
	l := strings.ToLower(strings.TrimSpace(line))
	switch {
	case l == "ok" || strings.HasPrefix(l, "ok "):
		return ReplyOK
	case strings.HasPrefix(l, "error") || strings.HasPrefix(l, "!!"):
		return ReplyError
	}
	return ReplyOther
}
