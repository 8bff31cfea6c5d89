package types

type AccessEvent struct {
	Date     string `json:"date"`
	Time     string `json:"time"`
	User     string `json:"user"`
	CardID   string `json:"card_id"`
	LoggedAt string `json:"logged_at"` // RFC3339, UTC
}

type AccessEventsResponse struct {
	OK         bool          `json:"ok"`
	Count      int           `json:"count"`
	Events     []AccessEvent `json:"events"`
	ServerTime string        `json:"server_time"`
}

type HealthResponse struct {
	OK         bool   `json:"ok"`
	Logged     uint64 `json:"logged"`
	Alarms     uint64 `json:"alarms"`
	Ignored    uint64 `json:"ignored"`
	Malformed  uint64 `json:"malformed"`
	Dropped    uint64 `json:"dropped"`
	ServerTime string `json:"server_time"`
}

type ErrorResponse struct {
	OK      bool   `json:"ok"`
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
