package types

import "time"

// Kind classifies a line received from the gate controller.
type Kind int

const (
	KindIgnored Kind = iota
	KindLog
	KindAlarm
)

func (k Kind) String() string {
	switch k {
	case KindLog:
		return "LOG"
	case KindAlarm:
		return "ALARM"
	default:
		return "IGNORED"
	}
}

// Event is one parsed controller line. It is consumed immediately by the
// router; only the LogRecord derived from a KindLog event is persisted.
type Event struct {
	Kind   Kind
	Raw    string // trimmed line as received
	User   string // KindLog only
	CardID string // KindLog only

	// Malformed is set for LOG-prefixed lines that carry fewer than two
	// fields after the tag. Such lines are dropped without a message.
	Malformed bool
}

// LogRecord is one row of the access log.
type LogRecord struct {
	Date   string // DD.MM.YYYY
	Time   string // HH:MM:SS
	User   string
	CardID string

	// LoggedAt is the instant Date and Time were rendered from. It is not
	// part of the CSV row.
	LoggedAt time.Time
}

// Fields returns the record in CSV column order.
func (r LogRecord) Fields() []string {
	return []string{r.Date, r.Time, r.User, r.CardID}
}
