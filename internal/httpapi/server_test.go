package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/gatelog/internal/gatelog/service"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/store/memory"
	"github.com/BrandonDHaskell/gatelog/internal/gatelog/types"
	"github.com/BrandonDHaskell/gatelog/internal/httpapi"
)

// syncBuffer is a log sink that tests can read while the server goroutines
// are still writing to it.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// waitFor polls the buffer until it contains want or a second passes.
func (b *syncBuffer) waitFor(want string) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Contains(b.String(), want) {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

// newTestServer wires the API over an in-memory mirror seeded with n records
// and returns an httptest.Server whose URL can be hit with a plain http.Client.
func newTestServer(t *testing.T, n int) (*httptest.Server, *syncBuffer) {
	t.Helper()

	st := memory.NewLogStore()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		_ = st.Append(context.Background(), types.LogRecord{
			Date:     at.Format("02.01.2006"),
			Time:     at.Format("15:04:05"),
			User:     "user-" + string(rune('a'+i%26)),
			CardID:   "AA BB CC DD",
			LoggedAt: at,
		})
	}

	logs := &syncBuffer{}
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  log.New(logs, "", 0),
		Addr:    ":0",
		Records: st,
		Stats:   func() service.Stats { return service.Stats{Logged: uint64(n), Alarms: 2} },
	})

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, logs
}

func get(t *testing.T, url, accept string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ── Health ───────────────────────────────────────────────────────────────────

func TestHealth_JSON(t *testing.T) {
	ts, _ := newTestServer(t, 3)

	resp := get(t, ts.URL+"/v1/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var hr types.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !hr.OK || hr.Logged != 3 || hr.Alarms != 2 {
		t.Errorf("unexpected health %+v", hr)
	}
}

func TestHealth_Protobuf(t *testing.T) {
	ts, _ := newTestServer(t, 1)

	resp := get(t, ts.URL+"/v1/healthz", "application/x-protobuf")
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-protobuf" {
		t.Fatalf("expected protobuf content type, got %q", ct)
	}

	body, _ := io.ReadAll(resp.Body)
	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := msg.GetFields()["alarms"].GetNumberValue(); got != 2 {
		t.Errorf("expected alarms=2, got %v", got)
	}
}

// ── Access events ────────────────────────────────────────────────────────────

func TestAccessEvents_DefaultLimitNewestFirst(t *testing.T) {
	ts, _ := newTestServer(t, 60)

	resp := get(t, ts.URL+"/v1/access_events", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var ar types.AccessEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ar.Count != 50 || len(ar.Events) != 50 {
		t.Fatalf("expected default limit 50, got count=%d len=%d", ar.Count, len(ar.Events))
	}
	if ar.Events[0].Time != "10:59:00" {
		t.Errorf("expected newest first, got %q", ar.Events[0].Time)
	}
	if ar.Events[0].LoggedAt != "2024-05-01T10:59:00Z" {
		t.Errorf("unexpected logged_at %q", ar.Events[0].LoggedAt)
	}
}

func TestAccessEvents_Limit(t *testing.T) {
	ts, _ := newTestServer(t, 10)

	resp := get(t, ts.URL+"/v1/access_events?limit=3", "")
	var ar types.AccessEventsResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ar.Count != 3 {
		t.Errorf("expected 3 events, got %d", ar.Count)
	}
}

func TestAccessEvents_InvalidLimit_400(t *testing.T) {
	ts, _ := newTestServer(t, 1)

	for _, q := range []string{"abc", "0", "-5"} {
		resp := get(t, ts.URL+"/v1/access_events?limit="+q, "")
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("limit=%s: expected 400, got %d", q, resp.StatusCode)
		}
	}
}

func TestAccessEvents_Protobuf(t *testing.T) {
	ts, _ := newTestServer(t, 2)

	resp := get(t, ts.URL+"/v1/access_events", "application/x-protobuf;q=0.9, application/json;q=0.5")
	body, _ := io.ReadAll(resp.Body)

	var msg structpb.Struct
	if err := proto.Unmarshal(body, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	events := msg.GetFields()["events"].GetListValue().GetValues()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	card := events[0].GetStructValue().GetFields()["card_id"].GetStringValue()
	if card != "AA BB CC DD" {
		t.Errorf("unexpected card_id %q", card)
	}
}

func TestAccessEvents_WriteMethodsRejected(t *testing.T) {
	ts, _ := newTestServer(t, 1)

	resp, err := http.Post(ts.URL+"/v1/access_events", "application/json", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", resp.StatusCode)
	}
}

type failingLister struct{}

func (failingLister) ListRecent(context.Context, int) ([]types.LogRecord, error) {
	return nil, errors.New("database is locked")
}

func TestAccessEvents_StoreError_500(t *testing.T) {
	logs := &syncBuffer{}
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  log.New(logs, "", 0),
		Records: failingLister{},
	})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp := get(t, ts.URL+"/v1/access_events", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.StatusCode)
	}
	if !logs.waitFor("database is locked") {
		t.Errorf("expected store error to be logged, got %q", logs.String())
	}
}

func TestMiddleware_LogsRequests(t *testing.T) {
	ts, logs := newTestServer(t, 1)

	_ = get(t, ts.URL+"/v1/access_events?limit=1", "")
	if !logs.waitFor("GET /v1/access_events?limit=1 status=200") {
		t.Errorf("unexpected request log %q", logs.String())
	}
}
