package telemetry

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubBroadcastsToClient(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	go hub.Run()
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	want := Event{
		Kind:      KindReconcileDrift,
		Symbol:    "AAPL",
		Reason:    "delta 5 units",
		Magnitude: 5,
		Time:      time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC),
	}
	// Retry: the subscription registers asynchronously with the server.
	for i := 0; i < 20; i++ {
		hub.Publish(want)
		time.Sleep(10 * time.Millisecond)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var got Event
	require.NoError(t, json.Unmarshal(payload, &got))
	assert.Equal(t, KindReconcileDrift, got.Kind)
	assert.Equal(t, "AAPL", got.Symbol)
	assert.InDelta(t, 5, got.Magnitude, 1e-9)
}

func TestHubPublishNeverBlocks(t *testing.T) {
	t.Parallel()

	hub := NewHub(2, nil) // no Run loop draining

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			hub.Publish(Event{Kind: KindSessionState})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked with a full buffer")
	}
	assert.Greater(t, hub.Drops(), 0)
}

func TestStalledClientDoesNotStallPublish(t *testing.T) {
	t.Parallel()

	hub := NewHub(8, nil)
	go hub.Run()
	defer hub.Close()

	srv := httptest.NewServer(hub.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscriber never reads. Its outbox and the TCP buffers fill while
	// publishes keep arriving from the trading path; the hub must evict it
	// rather than wait on the socket.
	reason := strings.Repeat("x", 4096)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 2000; i++ {
			hub.Publish(Event{Kind: KindRiskHalt, Reason: reason, Time: time.Now()})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish stalled behind a subscriber that stopped reading")
	}
}

func TestMultiFansOut(t *testing.T) {
	t.Parallel()

	var a, b []Event
	m := Multi{
		Func(func(e Event) { a = append(a, e) }),
		Func(func(e Event) { b = append(b, e) }),
	}
	m.Publish(Event{Kind: KindRiskHalt})

	assert.Len(t, a, 1)
	assert.Len(t, b, 1)
}
