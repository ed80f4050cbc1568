package notify

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dray-io/bulkgc/internal/logging"
)

func TestRecorder(t *testing.T) {
	ctx := context.Background()
	var r Recorder

	require.NoError(t, r.Publish(ctx, Event{Type: CommandCompleted, CommandID: "a"}))
	require.NoError(t, r.Publish(ctx, Event{Type: BlobsDeleted}))
	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(CommandCompleted), 1)

	boom := errors.New("boom")
	r.SetError(boom)
	assert.ErrorIs(t, r.Publish(ctx, Event{Type: CommandCompleted}), boom)
	assert.Len(t, r.Events(), 2)
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	log := logging.New(logging.Config{Level: logging.LevelInfo, Format: logging.FormatJSON, Output: &buf})

	p := NewLogPublisher(log)
	require.NoError(t, p.Publish(context.Background(), Event{
		Type:      CommandCompleted,
		Time:      time.Now(),
		CommandID: "cmd-1",
		State:     "COMPLETED",
	}))
	assert.Contains(t, buf.String(), "cmd-1")
	assert.Contains(t, buf.String(), string(CommandCompleted))
	assert.NoError(t, p.Close())
}

func TestNewKafkaPublisherValidation(t *testing.T) {
	ctx := context.Background()

	_, err := NewKafkaPublisher(ctx, KafkaConfig{Topic: "events"}, logging.Nop())
	assert.Error(t, err)

	_, err = NewKafkaPublisher(ctx, KafkaConfig{Brokers: []string{"localhost:9092"}}, logging.Nop())
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var p Publisher = Nop{}
	assert.NoError(t, p.Publish(context.Background(), Event{}))
	assert.NoError(t, p.Close())
}
