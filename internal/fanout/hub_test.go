package fanout

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReachesAllSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	defer a.Close()
	defer b.Close()

	h.Publish(Event{Type: TypeActivity, Data: "x"})

	for _, s := range []*Subscription{a, b} {
		select {
		case ev := <-s.Events():
			assert.Equal(t, TypeActivity, ev.Type)
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := NewHub()
	slow := h.Subscribe(1)
	fast := h.Subscribe(10)
	defer slow.Close()
	defer fast.Close()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			h.Publish(Event{Type: TypeActivity, Data: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, fast.Events(), 5)
	assert.Len(t, slow.Events(), 1)
	assert.Equal(t, int64(4), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
}

func TestSubscriptionClose(t *testing.T) {
	h := NewHub()
	s := h.Subscribe(0)
	assert.Equal(t, 1, h.Len())

	s.Close()
	s.Close()
	assert.Equal(t, 0, h.Len())
	_, ok := <-s.Events()
	assert.False(t, ok)

	h.Publish(Event{Type: TypeSequence})
}

func TestHubClose(t *testing.T) {
	h := NewHub()
	s := h.Subscribe(1)
	h.Close()

	_, ok := <-s.Events()
	assert.False(t, ok)
	s.Close()

	late := h.Subscribe(1)
	_, ok = <-late.Events()
	assert.False(t, ok, "subscriptions after close start closed")
	assert.Equal(t, 0, h.Len())
}

func TestServeWSStreamsEvents(t *testing.T) {
	h := NewHub()
	srv := httptest.NewServer(ServeWS(h, 8, nil))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)
	h.Publish(Event{Type: TypeSequence, Data: map[string]string{"type": "Media Capture"}})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, TypeSequence, ev.Type)
	assert.Equal(t, "Media Capture", ev.Data["type"])

	conn.Close()
	require.Eventually(t, func() bool { return h.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
