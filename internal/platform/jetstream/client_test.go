package jetstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// feed serves a fixed list of events per connection and records the query
// of every subscription.
type feed struct {
	mu      sync.Mutex
	queries []string
	events  []Event
}

func (f *feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.queries = append(f.queries, r.URL.RawQuery)
	events := append([]Event(nil), f.events...)
	f.mu.Unlock()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.CloseNow() //nolint:errcheck

	for _, ev := range events {
		if err := wsjson.Write(r.Context(), conn, ev); err != nil {
			return
		}
	}
	_ = conn.Close(websocket.StatusNormalClosure, "done")
}

func (f *feed) subscriptions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type collectingHandler struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (h *collectingHandler) HandleEvents(_ context.Context, evs []Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.events = append(h.events, evs...)
	return nil
}

func (h *collectingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/subscribe"
}

func commitEvent(timeUS int64, rkey string) Event {
	return Event{
		DID:    "did:plc:alice0000000000000000000",
		TimeUS: timeUS,
		Kind:   KindCommit,
		Commit: &Commit{
			Operation:  OpCreate,
			Collection: "com.linkedclaims.claim",
			RKey:       rkey,
			Record:     []byte(`{"subject":"https://ngo.example","claimType":"impact"}`),
		},
	}
}

func TestClient_DeliversBatchesAndResumesFromCursor(t *testing.T) {
	f := &feed{events: []Event{commitEvent(100, "r1"), commitEvent(200, "r2"), commitEvent(300, "r3")}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	h := &collectingHandler{}
	c, err := NewClient(Config{
		URL:               wsURL(srv),
		WantedCollections: []string{"com.linkedclaims.claim"},
		BatchSize:         2,
		FlushInterval:     5 * time.Millisecond,
		ReconnectDelay:    5 * time.Millisecond,
	}, h, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, 50) }()

	require.Eventually(t, func() bool {
		return len(f.subscriptions()) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	subs := f.subscriptions()
	assert.Contains(t, subs[0], "cursor=50")
	assert.Contains(t, subs[0], "wantedCollections=com.linkedclaims.claim")
	assert.Contains(t, subs[1], "cursor=300")
	assert.GreaterOrEqual(t, h.count(), 3)
	assert.Equal(t, int64(300), c.Cursor())
}

func TestClient_HandlerErrorIsFatal(t *testing.T) {
	f := &feed{events: []Event{commitEvent(100, "r1")}}
	srv := httptest.NewServer(f)
	defer srv.Close()

	boom := errors.New("store unavailable")
	c, err := NewClient(Config{URL: wsURL(srv), FlushInterval: 5 * time.Millisecond}, &collectingHandler{err: boom}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err = c.Run(ctx, 0)

	var herr *HandlerError
	require.ErrorAs(t, err, &herr)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, c.Cursor())
}

func TestSubscribeURL(t *testing.T) {
	u, err := SubscribeURL("wss://jetstream.example/subscribe?compress=false", []string{"a.b.c", "d.e.f"}, 0)
	require.NoError(t, err)
	assert.Equal(t, "wss://jetstream.example/subscribe?compress=false&wantedCollections=a.b.c&wantedCollections=d.e.f", u)

	u, err = SubscribeURL("wss://jetstream.example/subscribe?cursor=1", nil, 42)
	require.NoError(t, err)
	assert.Equal(t, "wss://jetstream.example/subscribe?cursor=42", u)
}

func TestNewClient_RequiresURL(t *testing.T) {
	_, err := NewClient(Config{}, &collectingHandler{}, nil)
	assert.Error(t, err)
}
