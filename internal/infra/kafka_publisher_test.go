package infra

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/eliteGoblin/proctord/internal/domain"
)

// mockProducer is a test double for the kgo client
type mockProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	err     error
	closed  bool
}

func (m *mockProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	m.mu.Lock()
	defer m.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if m.err == nil {
			m.records = append(m.records, r)
		}
		results = append(results, kgo.ProduceResult{Record: r, Err: m.err})
	}
	return results
}

func (m *mockProducer) Close() { m.closed = true }

func TestKafkaPublisher_Publish(t *testing.T) {
	producer := &mockProducer{}
	publisher := newKafkaPublisher(producer, "")

	for _, e := range sessionEvents("s-42") {
		require.NoError(t, publisher.Publish(context.Background(), e))
	}

	require.Len(t, producer.records, 3)
	for _, r := range producer.records {
		assert.Equal(t, DefaultKafkaTopic, r.Topic)
		assert.Equal(t, "s-42", string(r.Key))
	}

	recorded := producer.records[1]
	assert.Equal(t, testEpoch.Add(30*time.Second), recorded.Timestamp)
	require.Len(t, recorded.Headers, 1)
	assert.Equal(t, string(domain.ViolationRecorded), string(recorded.Headers[0].Value))

	var decoded domain.SessionEvent
	require.NoError(t, json.Unmarshal(recorded.Value, &decoded))
	assert.Equal(t, domain.ViolationRecorded, decoded.Kind)
	require.NotNil(t, decoded.Violation)
	assert.Equal(t, domain.ViolationPhoneDetected, decoded.Violation.Type)
}

func TestKafkaPublisher_ProduceError(t *testing.T) {
	producer := &mockProducer{err: errors.New("broker unavailable")}
	publisher := newKafkaPublisher(producer, "exam-events")

	err := publisher.Publish(context.Background(), sessionEvents("s-1")[0])
	assert.ErrorContains(t, err, "broker unavailable")
	assert.Empty(t, producer.records)
}

func TestKafkaPublisher_Close(t *testing.T) {
	producer := &mockProducer{}
	publisher := newKafkaPublisher(producer, "exam-events")

	assert.Equal(t, "kafka", publisher.Name())
	require.NoError(t, publisher.Close())
	assert.True(t, producer.closed)
}
