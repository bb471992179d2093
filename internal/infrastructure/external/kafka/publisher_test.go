package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/bi-workflow/internal/application/dispatcher"
	"github.com/garyjia/bi-workflow/internal/domain/event"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	pub := newPublisher(w, "workflow.events", time.Second, zap.NewNop())

	evt := event.NewEvent(event.TypeStepAdvanced, "inst-1", map[string]interface{}{"step_index": 1}).
		ForEntity("expense", "EXP-9")
	require.NoError(t, pub.Publish(context.Background(), evt))

	require.Len(t, w.msgs, 1)
	msg := w.msgs[0]
	assert.Equal(t, "inst-1", string(msg.Key))
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, string(event.TypeStepAdvanced), string(msg.Headers[0].Value))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, "EXP-9", decoded["entity_id"])

	require.NoError(t, pub.Close())
	assert.True(t, w.closed)
}

func TestPublisher_WriteError(t *testing.T) {
	w := &fakeWriter{err: errors.New("broker down")}
	pub := newPublisher(w, "t", time.Second, zap.NewNop())

	err := pub.Publish(context.Background(), event.NewEvent(event.TypeInstanceApproved, "inst-1", nil))
	assert.ErrorContains(t, err, "broker down")
}

func TestNewPublisher_NoBrokersIsNoop(t *testing.T) {
	pub := NewPublisher(Config{}, zap.NewNop())
	_, ok := pub.(Noop)
	assert.True(t, ok)
	assert.NoError(t, pub.Publish(context.Background(), event.NewEvent(event.TypeInstanceApproved, "x", nil)))
	assert.NoError(t, pub.Close())
}

func TestForward(t *testing.T) {
	w := &fakeWriter{}
	d := dispatcher.NewDispatcher()
	defer d.Close()
	Forward(d, newPublisher(w, "t", time.Second, zap.NewNop()))

	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeInstanceCancelled, "inst-2", nil)))
	require.NoError(t, d.Dispatch(context.Background(), event.NewEvent(event.TypeSLABreached, "inst-3", nil)))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "inst-3", string(w.msgs[1].Key))
}
