package websocket

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scout-progress/internal/domain"
)

type fakeWatcher struct {
	mu      sync.Mutex
	watches map[string]func(domain.BadgeSummary)
	stopped []string
}

func newFakeWatcher() *fakeWatcher {
	return &fakeWatcher{watches: make(map[string]func(domain.BadgeSummary))}
}

func (f *fakeWatcher) WatchBadges(memberID string, fn func(domain.BadgeSummary)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watches[memberID] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.watches, memberID)
		f.stopped = append(f.stopped, memberID)
	}
}

func (f *fakeWatcher) fire(summary domain.BadgeSummary) bool {
	f.mu.Lock()
	fn, ok := f.watches[summary.MemberID]
	f.mu.Unlock()
	if ok {
		fn(summary)
	}
	return ok
}

func (f *fakeWatcher) stoppedMembers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.stopped...)
}

type wireMessage struct {
	Type     string          `json:"type"`
	MemberID string          `json:"member_id"`
	Data     json.RawMessage `json:"data"`
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(h *Hub) *Client {
	return &Client{id: "c", hub: h, send: make(chan []byte, 16), logger: testLogger()}
}

func receive(t *testing.T, c *Client) wireMessage {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg wireMessage
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message delivered")
		return wireMessage{}
	}
}

func TestHubRoutesUpdatesByMember(t *testing.T) {
	watcher := newFakeWatcher()
	hub := NewHub(watcher, testLogger())
	go hub.Run()
	defer hub.Stop()

	alice, bob := newTestClient(hub), newTestClient(hub)
	hub.Register(alice)
	hub.Register(bob)
	hub.Subscribe(alice, "m1")
	hub.Subscribe(bob, "m2")
	require.Eventually(t, func() bool {
		return hub.SubscriberCount("m1") == 1 && hub.SubscriberCount("m2") == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, hub.TotalConnections())

	hub.PublishProfile(domain.Profile{MemberID: "m1", Points: 150, Level: 1})
	msg := receive(t, alice)
	assert.Equal(t, MessageTypeProfileUpdate, msg.Type)
	assert.Equal(t, "m1", msg.MemberID)

	var p domain.Profile
	require.NoError(t, json.Unmarshal(msg.Data, &p))
	assert.Equal(t, 150, p.Points)
	assert.Empty(t, bob.send)

	require.True(t, watcher.fire(domain.BadgeSummary{MemberID: "m2", TargetLevel: domain.LevelRakit}))
	msg = receive(t, bob)
	assert.Equal(t, MessageTypeBadgeUpdate, msg.Type)
	assert.Empty(t, alice.send)
}

func TestHubStopsWatchWithLastSubscriber(t *testing.T) {
	watcher := newFakeWatcher()
	hub := NewHub(watcher, testLogger())
	go hub.Run()
	defer hub.Stop()

	a, b := newTestClient(hub), newTestClient(hub)
	hub.Register(a)
	hub.Register(b)
	hub.Subscribe(a, "m1")
	hub.Subscribe(b, "m1")
	require.Eventually(t, func() bool { return hub.SubscriberCount("m1") == 2 }, 2*time.Second, 5*time.Millisecond)

	hub.Unsubscribe(a, "m1")
	require.Eventually(t, func() bool { return hub.SubscriberCount("m1") == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, watcher.stoppedMembers())

	hub.Unregister(b)
	require.Eventually(t, func() bool { return hub.SubscriberCount("m1") == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"m1"}, watcher.stoppedMembers())

	_, open := <-b.send
	assert.False(t, open)
}

func TestServeWsSubscribesFromQuery(t *testing.T) {
	hub := NewHub(nil, testLogger())
	go hub.Run()
	defer hub.Stop()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, testLogger(), w, r)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?member_id=m1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.SubscriberCount("m1") == 1 }, 2*time.Second, 5*time.Millisecond)

	hub.PublishProfile(domain.Profile{MemberID: "m1", Vitality: 80})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wireMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypeProfileUpdate, msg.Type)

	require.NoError(t, conn.WriteJSON(ClientMessage{Type: MessageTypePing}))
	_, data, err = conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, MessageTypePong, msg.Type)
}
