package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"auditflow/internal/events"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventsStreamUntilCompleted(t *testing.T) {
	hub := events.NewHub(8)
	mux := http.NewServeMux()
	mux.Handle("GET /v1/jobs/{id}/events", NewEventsHandler(hub, nil))
	srv := httptest.NewServer(mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/jobs/job7/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Equal(t, 1, hub.Subscribers("job7"))

	ctx := context.Background()
	require.NoError(t, hub.Publish(ctx, events.New("other", events.StageGrouped)))
	require.NoError(t, hub.Publish(ctx, events.New("job7", events.StageGrouped)))
	require.NoError(t, hub.Publish(ctx, events.New("job7", events.StageCompleted)))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var got []events.Event
	for i := 0; i < 2; i++ {
		var ev events.Event
		require.NoError(t, conn.ReadJSON(&ev))
		got = append(got, ev)
	}
	assert.Equal(t, events.StageGrouped, got[0].Stage)
	assert.Equal(t, events.StageCompleted, got[1].Stage)
	for _, ev := range got {
		assert.Equal(t, "job7", ev.JobID)
	}

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	assert.Eventually(t, func() bool { return hub.Subscribers("job7") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestEventsRejectsBadJobID(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("GET /v1/jobs/{id}/events", NewEventsHandler(events.NewHub(1), nil))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/jobs/bad$id/events", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
