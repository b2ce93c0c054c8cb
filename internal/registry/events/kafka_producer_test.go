package events

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gartstein/mca-insights/internal/registry/models"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

// MockKafkaWriter implements the KafkaWriter interface for testing.
type MockKafkaWriter struct {
	mock.Mock
}

func (m *MockKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

func (m *MockKafkaWriter) Close() error {
	args := m.Called()
	return args.Error(0)
}

func newTestProducer(writer KafkaWriter, logger *zap.Logger, buffer int) *Producer {
	p := &Producer{
		writer:    writer,
		events:    make(chan models.ChangeEvent, buffer),
		logger:    logger.Named("kafka_producer"),
		closeChan: make(chan struct{}),
	}
	go p.eventLoop()
	return p
}

func testEvent() models.ChangeEvent {
	return models.ChangeEvent{
		CIN:          "U100",
		Type:         models.FieldUpdate,
		FieldChanged: models.FieldStatus,
		OldValue:     "ACTIVE",
		NewValue:     "DORMANT",
		Date:         time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
	}
}

// TestProduce verifies events flow through the queue to the writer, keyed by
// CIN with a JSON body.
func TestProduce(t *testing.T) {
	writer := new(MockKafkaWriter)
	written := make(chan kafka.Message, 1)
	writer.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			msgs := args.Get(1).([]kafka.Message)
			written <- msgs[0]
		}).
		Return(nil)
	writer.On("Close").Return(nil)

	p := newTestProducer(writer, zaptest.NewLogger(t), 10)
	defer p.Close()

	event := testEvent()
	p.Produce(event)

	select {
	case msg := <-written:
		assert.Equal(t, []byte("U100"), msg.Key, "messages are keyed by CIN")
		var decoded models.ChangeEvent
		require.NoError(t, json.Unmarshal(msg.Value, &decoded))
		assert.Equal(t, event, decoded)
	case <-time.After(2 * time.Second):
		t.Fatal("event was never written")
	}
}

// TestProduceQueueFull verifies a saturated queue drops events with a
// warning instead of blocking the caller.
func TestProduceQueueFull(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	writer := new(MockKafkaWriter)
	writer.On("Close").Return(nil)

	// No eventLoop: nothing drains the single-slot queue.
	p := &Producer{
		writer:    writer,
		events:    make(chan models.ChangeEvent, 1),
		logger:    zap.New(core),
		closeChan: make(chan struct{}),
	}

	p.Produce(testEvent())
	p.Produce(testEvent()) // dropped

	dropped := logs.FilterMessage("Kafka producer queue full, dropping event")
	require.Equal(t, 1, dropped.Len())
	assert.Equal(t, "U100", dropped.All()[0].ContextMap()["cin"])
}

// TestProduceWriteFailure verifies a broker error is logged and swallowed;
// the producer stays fire-and-forget.
func TestProduceWriteFailure(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	writer := new(MockKafkaWriter)
	failed := make(chan struct{}, 1)
	writer.On("WriteMessages", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { failed <- struct{}{} }).
		Return(fmt.Errorf("broker unavailable"))
	writer.On("Close").Return(nil)

	p := newTestProducer(writer, zap.New(core), 10)
	defer p.Close()

	p.Produce(testEvent())

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("write was never attempted")
	}
	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Failed to produce event").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

// TestProduceSerializationFailure verifies a marshal error skips the write.
func TestProduceSerializationFailure(t *testing.T) {
	original := jsonMarshal
	jsonMarshal = func(interface{}) ([]byte, error) {
		return nil, fmt.Errorf("marshal failure")
	}
	defer func() { jsonMarshal = original }()

	core, logs := observer.New(zap.ErrorLevel)
	writer := new(MockKafkaWriter)
	writer.On("Close").Return(nil)

	p := newTestProducer(writer, zap.New(core), 10)
	p.Produce(testEvent())

	assert.Eventually(t, func() bool {
		return logs.FilterMessage("Failed to serialize event").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)
	p.Close()
	writer.AssertNotCalled(t, "WriteMessages", mock.Anything, mock.Anything)
}

func TestClose(t *testing.T) {
	writer := new(MockKafkaWriter)
	writer.On("Close").Return(nil)

	p := newTestProducer(writer, zaptest.NewLogger(t), 10)
	p.Close()

	writer.AssertCalled(t, "Close")
}
