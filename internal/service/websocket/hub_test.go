package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"detectionapi/internal/logger"
	"detectionapi/internal/model"
)

func startHub(t *testing.T) (*HubService, *httptest.Server, context.CancelFunc, <-chan struct{}) {
	t.Helper()

	hub := NewHubService(logger.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		hub.Run(ctx)
	}()

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		hub.Register(conn)
		defer hub.Unregister(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return hub, srv, cancel, stopped
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	return conn
}

func TestHub_BroadcastsCommittedRecords(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, srv, cancel, stopped := startHub(t)
	defer srv.Close()

	conn := dial(t, srv)
	defer conn.Close()
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	record := &model.ResultRecord{
		ID:         "Ab3dE6gH",
		Detections: model.DetectionSet{{Label: "cat", Box: model.BoundingBox{X1: 1, Y1: 2, X2: 3, Y2: 4}}},
		ImageURL:   "http://localhost/artifacts/annotated_images/Ab3dE6gH.jpg",
	}
	require.NoError(t, hub.Notify(context.Background(), record))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var event model.ResultEvent
	require.NoError(t, json.Unmarshal(data, &event))
	assert.Equal(t, model.EventDetection, event.Type)
	require.NotNil(t, event.Record)
	assert.Equal(t, record.ID, event.Record.ID)
	assert.Equal(t, []string{"cat"}, event.Record.Detections.Labels())

	cancel()
	<-stopped

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
	assert.Equal(t, 0, hub.GetClientCount())
}

func TestHub_ClientDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, srv, cancel, stopped := startHub(t)
	defer srv.Close()
	defer func() {
		cancel()
		<-stopped
	}()

	conn := dial(t, srv)
	require.Eventually(t, func() bool { return hub.GetClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.GetClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_NotifyWithoutViewers(t *testing.T) {
	defer goleak.VerifyNone(t)

	hub, srv, cancel, stopped := startHub(t)
	defer srv.Close()

	assert.NoError(t, hub.Notify(context.Background(), &model.ResultRecord{ID: "x"}))

	cancel()
	<-stopped
	assert.ErrorIs(t, hub.Notify(context.Background(), &model.ResultRecord{ID: "y"}), ErrHubClosed)
}

func TestHub_NotifyHonoursContext(t *testing.T) {
	hub := NewHubService(logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, hub.Notify(ctx, &model.ResultRecord{ID: "x"}), context.Canceled)
}

func TestHub_NotifyDoesNotWaitForViewers(t *testing.T) {
	// no Run loop: nothing drains the queue, as with a viewer stuck on a write
	hub := NewHubService(logger.NewNop())
	ctx := context.Background()

	for i := 0; i < broadcastBuffer; i++ {
		require.NoError(t, hub.Notify(ctx, &model.ResultRecord{ID: "queued"}))
	}

	start := time.Now()
	err := hub.Notify(ctx, &model.ResultRecord{ID: "dropped"})
	assert.ErrorIs(t, err, ErrHubBusy)
	assert.Less(t, time.Since(start), time.Second)
}
