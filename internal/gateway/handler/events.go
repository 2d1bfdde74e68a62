package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"auditflow/internal/events"
	"auditflow/internal/jobdir"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	eventsWSWriteWait = 10 * time.Second
	eventsWSPongWait  = 60 * time.Second
	eventsWSPingEvery = (eventsWSPongWait * 9) / 10
)

var eventsWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// Subscriber hands out per-job event streams.
type Subscriber interface {
	Subscribe(jobID string) (<-chan events.Event, func())
}

// EventsHandler streams a job's lifecycle events over a websocket. The
// stream ends after the job's last event.
type EventsHandler struct {
	hub Subscriber
	log *zap.Logger
}

func NewEventsHandler(hub Subscriber, logger *zap.Logger) *EventsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventsHandler{hub: hub, log: logger.Named("events_ws")}
}

func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.PathValue("id"))
	if err := jobdir.ValidateID(jobID); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "bad request", Detail: "invalid job id"})
		return
	}

	// Subscribe before the upgrade so nothing published in between is lost.
	sub, unsubscribe := h.hub.Subscribe(jobID)
	defer unsubscribe()

	conn, err := eventsWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(eventsWSPongWait)); err != nil {
		h.log.Warn("set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsWSPongWait))
	})

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		defer cancel()
		h.write(ctx, conn, sub)
	}()

	// Reads only detect the peer going away; inbound messages are ignored.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	<-writerDone
	h.log.Debug("events stream closed", zap.String("job_id", jobID))
}

func (h *EventsHandler) write(ctx context.Context, conn *websocket.Conn, sub <-chan events.Event) {
	ticker := time.NewTicker(eventsWSPingEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if terminal(ev.Stage) {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Stage)),
					time.Now().Add(eventsWSWriteWait))
				return
			}
		case <-ticker.C:
			if err := conn.SetWriteDeadline(time.Now().Add(eventsWSWriteWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// terminal reports whether stage ends a job on this service. Stage one's
// forward mode ends once stage two has answered.
func terminal(stage events.Stage) bool {
	switch stage {
	case events.StageCompleted, events.StageFailed, events.StageForwarded:
		return true
	}
	return false
}
