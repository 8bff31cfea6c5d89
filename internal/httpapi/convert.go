package httpapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
)

// ── Access events ────────────────────────────────────────────────────────────

func accessEventsResponse(recs []types.LogRecord, now time.Time) types.AccessEventsResponse {
	events := make([]types.AccessEvent, 0, len(recs))
	for _, rec := range recs {
		events = append(events, types.AccessEvent{
			Date:     rec.Date,
			Time:     rec.Time,
			User:     rec.User,
			CardID:   rec.CardID,
			LoggedAt: rec.LoggedAt.UTC().Format(time.RFC3339),
		})
	}
	return types.AccessEventsResponse{
		OK:         true,
		Count:      len(events),
		Events:     events,
		ServerTime: now.Format(time.RFC3339Nano),
	}
}

func accessEventsToProto(r types.AccessEventsResponse) (*structpb.Struct, error) {
	events := make([]any, 0, len(r.Events))
	for _, e := range r.Events {
		events = append(events, map[string]any{
			"date":      e.Date,
			"time":      e.Time,
			"user":      e.User,
			"card_id":   e.CardID,
			"logged_at": e.LoggedAt,
		})
	}
	return structpb.NewStruct(map[string]any{
		"ok":          r.OK,
		"count":       r.Count,
		"events":      events,
		"server_time": r.ServerTime,
	})
}

// ── Health ───────────────────────────────────────────────────────────────────

func healthToProto(r types.HealthResponse) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"ok":          structpb.NewBoolValue(r.OK),
		"logged":      structpb.NewNumberValue(float64(r.Logged)),
		"alarms":      structpb.NewNumberValue(float64(r.Alarms)),
		"ignored":     structpb.NewNumberValue(float64(r.Ignored)),
		"malformed":   structpb.NewNumberValue(float64(r.Malformed)),
		"dropped":     structpb.NewNumberValue(float64(r.Dropped)),
		"server_time": structpb.NewStringValue(r.ServerTime),
	}}
}
