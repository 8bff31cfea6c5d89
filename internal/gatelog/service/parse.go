package service

import (
	"strings"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

const (
	tagLog   = "LOG"
	tagAlarm = "ALARM"
)

// ParseLine classifies one controller line.
//
//	LOG,<user>,<card_id>[,...]   -> KindLog (extra fields ignored)
//	ALARM,<free text>            -> KindAlarm
//	anything else                -> KindIgnored
//
// Prefixes are matched literally, so "LOGX,a,b" is a LOG line. A LOG line
// with fewer than three comma-separated tokens is KindIgnored with
// Malformed set.
func ParseLine(line string) types.Event {
	line = strings.TrimSpace(line)
	ev := types.Event{Kind: types.KindIgnored, Raw: line}

	switch {
	case strings.HasPrefix(line, tagLog):
		tokens := strings.Split(line, ",")
		if len(tokens) < 3 {
			ev.Malformed = true
			return ev
		}
		ev.Kind = types.KindLog
		ev.User = tokens[1]
		ev.CardID = tokens[2]
	case strings.HasPrefix(line, tagAlarm):
		ev.Kind = types.KindAlarm
	}
	return ev
}
