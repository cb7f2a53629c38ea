// Package display renders room traffic for the interactive user client.
package display

import (
	"fmt"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/haricheung/agent-ops-room/internal/envelope"
)

// ANSI codes
const (
	ansiReset  = "\033[0m"
	ansiBold   = "\033[1m"
	ansiDim    = "\033[2m"
	ansiCyan   = "\033[36m"
	ansiYellow = "\033[33m"
	ansiGreen  = "\033[32m"
	ansiRed    = "\033[31m"
)

// senderColWidth is the display width of the sender column; names are
// truncated and padded so the timeline stays aligned (CJK ids included).
const senderColWidth = 14

var kindColor = map[envelope.SenderKind]string{
	envelope.KindUser:   ansiCyan,
	envelope.KindAgent:  ansiGreen,
	envelope.KindSystem: ansiYellow,
}

// PublicLine renders one approved envelope for the timeline, or "" for
// types with nothing to show a human (heartbeats, grants).
func PublicLine(e envelope.Envelope) string {
	var body string
	switch e.Type {
	case envelope.TypeSay:
		p, err := e.Say()
		if err != nil {
			return ""
		}
		body = p.Text
	case envelope.TypeResult:
		p, err := e.Result()
		if err != nil {
			return ""
		}
		text := resultBody(p)
		if text == "" {
			return ""
		}
		body = fmt.Sprintf("%s[%s]%s %s", ansiDim, p.MessageType, ansiReset, text)
	default:
		return ""
	}

	color := kindColor[e.From.Kind]
	if color == "" {
		color = ansiDim
	}
	return fmt.Sprintf("%s%s %s%s%s  %s",
		ansiDim, clock(e.TS), color, senderCol(e.From.ID), ansiReset, body)
}

// SummaryLine renders a summary envelope as a dim banner.
func SummaryLine(p envelope.SummaryPayload) string {
	return fmt.Sprintf("%s── summary (through %s, %d messages) ──%s\n%s%s%s",
		ansiDim, clock(p.CoversUntilTS), p.MessageCount, ansiReset,
		ansiDim, p.SummaryText, ansiReset)
}

// RejectLine renders a gateway rejection notice.
func RejectLine(p envelope.RejectPayload) string {
	return fmt.Sprintf("%sblocked%s %s(message %s, task %s: %s)%s",
		ansiRed, ansiReset, ansiDim, p.MessageID, p.TaskID, p.Reason, ansiReset)
}

// Prompt is the readline prompt for the user client.
func Prompt(userID string) string {
	return fmt.Sprintf("%s%s>%s ", ansiBold, userID, ansiReset)
}

// senderCol truncates and pads a sender id to the fixed column width.
func senderCol(id string) string {
	return runewidth.FillRight(runewidth.Truncate(id, senderColWidth, "…"), senderColWidth)
}

func clock(ts int64) string {
	return time.Unix(ts, 0).Format("15:04:05")
}

func resultBody(p envelope.ResultPayload) string {
	return envelope.DisclosureText(p)
}
