package events

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	msgs   []kafkago.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
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

func TestKafkaPublisherKeysByTransaction(t *testing.T) {
	w := &recordingWriter{}
	p := &KafkaPublisher{topic: "loan.settled", source: "scorelend-worker", writer: w}

	require.NoError(t, p.Publish(context.Background(), "tx-1", []byte(`{"loan_transaction_id":"tx-1"}`)))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "tx-1", string(w.msgs[0].Key))
	assert.Equal(t, "source", w.msgs[0].Headers[0].Key)

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestKafkaPublisherWrapsErrors(t *testing.T) {
	p := &KafkaPublisher{topic: "loan.settled", writer: &recordingWriter{err: errors.New("leader not available")}}
	err := p.Publish(context.Background(), "tx-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loan.settled")
}

func TestNewFallsBackToLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	p := New(nil, "loan.settled", "test", logger)
	_, isLog := p.(*LogPublisher)
	require.True(t, isLog)
	require.NoError(t, p.Publish(context.Background(), "tx-1", []byte(`{}`)))
	assert.Contains(t, buf.String(), "key=tx-1")

	_, isKafka := New([]string{"localhost:9092"}, "loan.settled", "test", logger).(*KafkaPublisher)
	assert.True(t, isKafka)
}
