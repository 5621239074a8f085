package retrieval_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"docrag/backend/internal/retrieval"
)

type MockPublisher struct{ mock.Mock }

func (m *MockPublisher) Publish(topic string, body []byte) error {
	return m.Called(topic, body).Error(0)
}

func decodeEntries(t *testing.T, buf *bytes.Buffer) []retrieval.QueryLogEntry {
	t.Helper()
	var entries []retrieval.QueryLogEntry
	dec := json.NewDecoder(buf)
	for dec.More() {
		var e retrieval.QueryLogEntry
		require.NoError(t, dec.Decode(&e))
		entries = append(entries, e)
	}
	return entries
}

func TestQueryLogger_Log(t *testing.T) {
	tests := []struct {
		name  string
		entry retrieval.QueryLogEntry
		check func(t *testing.T, raw map[string]interface{}, got retrieval.QueryLogEntry)
	}{
		{
			name: "Search counts",
			entry: retrieval.QueryLogEntry{
				Operation:     "search",
				Query:         "install docker",
				NumResults:    3,
				VectorHits:    2,
				KeywordHits:   1,
				Duration:      42 * time.Millisecond,
				CorrelationID: "corr-1",
			},
			check: func(t *testing.T, raw map[string]interface{}, got retrieval.QueryLogEntry) {
				assert.Equal(t, 2, got.VectorHits)
				assert.Equal(t, 1, got.KeywordHits)
				assert.Equal(t, int64(42), got.LatencyMs)
				assert.Equal(t, "corr-1", got.CorrelationID)
				assert.NotContains(t, raw, "num_sources")
				assert.NotContains(t, raw, "context_length")
			},
		},
		{
			name: "Context sizes",
			entry: retrieval.QueryLogEntry{
				Operation:     "context",
				Query:         "docker daemon",
				NumResults:    2,
				NumSources:    2,
				ContextLength: 118,
				Duration:      1500 * time.Microsecond,
			},
			check: func(t *testing.T, raw map[string]interface{}, got retrieval.QueryLogEntry) {
				assert.Equal(t, 2, got.NumSources)
				assert.Equal(t, 118, got.ContextLength)
				assert.Equal(t, int64(1), got.LatencyMs)
				assert.Equal(t, float64(1500*time.Microsecond), raw["duration_ns"])
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			before := time.Now()
			retrieval.NewQueryLogger(&buf).Log(tt.entry)

			line := strings.TrimSpace(buf.String())
			require.NotContains(t, line, "\n")

			var raw map[string]interface{}
			require.NoError(t, json.Unmarshal([]byte(line), &raw))
			var got retrieval.QueryLogEntry
			require.NoError(t, json.Unmarshal([]byte(line), &got))

			assert.Equal(t, tt.entry.Operation, got.Operation)
			assert.Equal(t, tt.entry.Query, got.Query)
			assert.Equal(t, tt.entry.NumResults, got.NumResults)
			assert.False(t, got.Timestamp.Before(before.Truncate(time.Second)))
			tt.check(t, raw, got)
		})
	}
}

func TestQueryLogger_Publishes(t *testing.T) {
	var buf bytes.Buffer
	pub := new(MockPublisher)
	pub.On("Publish", "retrieval.query", mock.MatchedBy(func(body []byte) bool {
		var e retrieval.QueryLogEntry
		return json.Unmarshal(body, &e) == nil && e.Operation == "search" && e.VectorHits == 1
	})).Return(nil)

	l := retrieval.NewQueryLogger(&buf).WithPublisher(pub, "retrieval.query")
	l.Log(retrieval.QueryLogEntry{Operation: "search", Query: "q", NumResults: 1, VectorHits: 1})

	pub.AssertExpectations(t)
	assert.Len(t, decodeEntries(t, &buf), 1)
}

func TestQueryLogger_PublishFailureKeepsWriting(t *testing.T) {
	var buf bytes.Buffer
	pub := new(MockPublisher)
	pub.On("Publish", "retrieval.query", mock.Anything).Return(errors.New("nsqd unreachable"))

	l := retrieval.NewQueryLogger(&buf).WithPublisher(pub, "retrieval.query")
	l.Log(retrieval.QueryLogEntry{Operation: "search", Query: "first"})
	l.Log(retrieval.QueryLogEntry{Operation: "context", Query: "second"})

	pub.AssertNumberOfCalls(t, "Publish", 2)
	entries := decodeEntries(t, &buf)
	require.Len(t, entries, 2)
	assert.Equal(t, "first", entries[0].Query)
	assert.Equal(t, "second", entries[1].Query)
}

func TestQueryLogger_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	l := retrieval.NewQueryLogger(&buf)

	const workers, perWorker = 20, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				l.Log(retrieval.QueryLogEntry{Operation: "search", Query: "q", KeywordHits: 1})
			}
		}()
	}
	wg.Wait()

	entries := decodeEntries(t, &buf)
	assert.Len(t, entries, workers*perWorker)
	for _, e := range entries {
		assert.Equal(t, 1, e.KeywordHits)
	}
}
