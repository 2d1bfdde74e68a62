package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHubDeliversToJobSubscribers(t *testing.T) {
	h := NewHub(4)
	a, cancelA := h.Subscribe("job-a")
	b, cancelB := h.Subscribe("job-b")
	defer cancelB()

	require.NoError(t, h.Publish(context.Background(), New("job-a", StageGrouped)))

	ev := <-a
	assert.Equal(t, StageGrouped, ev.Stage)
	assert.Empty(t, b)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)
	assert.Zero(t, h.Subscribers("job-a"))
}

func TestHubDropsForSlowSubscribers(t *testing.T) {
	h := NewHub(1)
	ch, cancel := h.Subscribe("j")
	defer cancel()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.Publish(context.Background(), New("j", StageUnit)))
	}
	assert.Len(t, ch, 1)
}

type recordingConn struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (r *recordingConn) Publish(subject string, data []byte) error {
	r.subjects = append(r.subjects, subject)
	r.payloads = append(r.payloads, data)
	return r.err
}

func TestNATSPublisherSubjectAndPayload(t *testing.T) {
	rc := &recordingConn{}
	p := newNATSPublisher(rc, "auditflow.jobs")

	ev := New("job-1", StageCompleted)
	ev.Count = 3
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, rc.subjects, 1)
	assert.Equal(t, "auditflow.jobs.completed", rc.subjects[0])
	var got Event
	require.NoError(t, json.Unmarshal(rc.payloads[0], &got))
	assert.Equal(t, ev, got)
}

func TestMultiAndEmit(t *testing.T) {
	h := NewHub(2)
	ch, cancel := h.Subscribe("j")
	defer cancel()
	failing := newNATSPublisher(&recordingConn{err: errors.New("nats down")}, "x")

	core, logs := observer.New(zapcore.WarnLevel)
	Emit(context.Background(), Multi{h, failing, nil}, zap.New(core), Event{JobID: "j", Stage: StageFailed})

	ev := <-ch
	assert.NotZero(t, ev.HappenedAt)
	assert.Equal(t, 1, logs.FilterMessage("publish event failed").Len())
}
