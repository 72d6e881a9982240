package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-attendance/internal/logger"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishJSON(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w, Logger: logger.NewNop()}

	err := p.PublishJSON(context.Background(), "attendance.tickets.imported", "import-1", map[string]int{"created": 2})
	require.NoError(t, err)
	require.Len(t, w.msgs, 1)

	msg := w.msgs[0]
	assert.Equal(t, "attendance.tickets.imported", msg.Topic)
	assert.Equal(t, "import-1", string(msg.Key))

	var payload map[string]int
	require.NoError(t, json.Unmarshal(msg.Value, &payload))
	assert.Equal(t, 2, payload["created"])
}

func TestPublishWrapsWriterError(t *testing.T) {
	boom := errors.New("broker down")
	p := &Producer{Writer: &recordingWriter{err: boom}, Logger: logger.NewNop()}

	err := p.Publish(context.Background(), "t", "k", []byte("v"))
	assert.ErrorIs(t, err, boom)
}

func TestPublishJSONRejectsUnmarshalable(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w, Logger: logger.NewNop()}

	err := p.PublishJSON(context.Background(), "t", "k", make(chan int))
	assert.Error(t, err)
	assert.Empty(t, w.msgs)
}

func TestClose(t *testing.T) {
	w := &recordingWriter{}
	p := &Producer{Writer: w}
	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}
