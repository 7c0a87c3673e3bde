package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anicoll/house-power-simulator/internal/pkg/config"
	"github.com/anicoll/house-power-simulator/internal/pkg/model"
	"github.com/anicoll/house-power-simulator/internal/pkg/publisher"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestWrite(t *testing.T) {
	w := &fakeWriter{}
	svc := New(w)
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

	batch := publisher.Batch{Events: []model.Event{
		{
			Type:   model.EventPowerUpdate,
			At:     at,
			Update: &model.PowerUpdate{Power: 1500},
			Sample: &model.HistoryEntry{Timestamp: at.UnixMilli(), Power: 1500, Score: 96, Level: model.LevelExcellent, DeviceCount: 1},
		},
		{
			Type: model.EventFuseTripped,
			At:   at,
			Trip: &model.FuseTripped{Tripped: true, Message: "tripped"},
		},
	}}
	require.NoError(t, svc.Write(context.Background(), batch))
	require.Len(t, w.msgs, 2)

	assert.Equal(t, "powerUpdate", string(w.msgs[0].Key))
	assert.Equal(t, at, w.msgs[0].Time)

	var rec struct {
		Type string             `json:"type"`
		At   int64              `json:"at"`
		Data model.HistoryEntry `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &rec))
	assert.Equal(t, "powerUpdate", rec.Type)
	assert.Equal(t, at.UnixMilli(), rec.At)
	assert.Equal(t, 96, rec.Data.Score)

	assert.JSONEq(t,
		`{"type":"fuseTripped","at":1717243200000,"data":{"tripped":true,"message":"tripped"}}`,
		string(w.msgs[1].Value))
}

func TestWrite_EmptyBatch(t *testing.T) {
	w := &fakeWriter{err: errors.New("should not be called")}
	require.NoError(t, New(w).Write(context.Background(), publisher.Batch{}))
	assert.Empty(t, w.msgs)
}

func TestWrite_Error(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	err := New(w).Write(context.Background(), publisher.Batch{Events: []model.Event{{Type: model.EventSessionClosed, Session: &model.SessionStats{}}}})
	assert.EqualError(t, err, "leader not available")
}

func TestNewWriter(t *testing.T) {
	w := NewWriter(config.KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "house"})
	assert.Equal(t, "house", w.Topic)
	assert.Equal(t, "localhost:9092", w.Addr.String())

	svc := New(&fakeWriter{})
	require.NoError(t, svc.Close())
}
