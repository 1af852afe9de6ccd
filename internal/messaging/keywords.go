package messaging

import (
	"regexp"
	"strings"
)

// Action is the normalized intent of an inbound patient reply.
type Action string

const (
	ActionAccept       Action = "accept"
	ActionDecline      Action = "decline"
	ActionOptOut       Action = "opt_out"
	ActionHelp         Action = "help"
	ActionUnrecognized Action = "unrecognized"
)

// Keyword sets follow carrier conventions for STOP/HELP plus the accept and
// decline vocabulary patients actually use. Matching is on word boundaries
// within the trimmed body, so "YES!" and "No thanks" resolve the same as the
// bare keyword.
var (
	acceptRe  = regexp.MustCompile(`(?i)\b(yes|yeah|yep|y|ok|okay|sure|accept)\b`)
	declineRe = regexp.MustCompile(`(?i)\b(no|nope|nah|n|skip|pass|decline)\b`)
	optOutRe  = regexp.MustCompile(`(?i)\b(stop|unsubscribe|cancel|end|quit|remove)\b`)
	helpRe    = regexp.MustCompile(`(?i)\b(help|info)\b|\?`)
)

// ParseReply maps a raw SMS body to an action. Categories are checked in
// precedence order accept, decline, opt-out, help; anything else is
// unrecognized and gets a guidance reply.
func ParseReply(body string) Action {
	b := strings.TrimSpace(body)
	switch {
	case acceptRe.MatchString(b):
		return ActionAccept
	case declineRe.MatchString(b):
		return ActionDecline
	case optOutRe.MatchString(b):
		return ActionOptOut
	case helpRe.MatchString(b):
		return ActionHelp
	default:
		return ActionUnrecognized
	}
}
