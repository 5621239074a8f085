package retrieval

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

type QueryLogEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Operation     string        `json:"operation"`
	Query         string        `json:"query"`
	NumResults    int           `json:"num_results"`
	VectorHits    int           `json:"vector_hits"`
	KeywordHits   int           `json:"keyword_hits"`
	NumSources    int           `json:"num_sources,omitempty"`
	ContextLength int           `json:"context_length,omitempty"`
	Duration      time.Duration `json:"duration_ns"`
	LatencyMs     int64         `json:"latency_ms"`
	CorrelationID string        `json:"correlation_id"`
}

// Publisher sends a message to a topic. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

type QueryLogger struct {
	writer    io.Writer
	publisher Publisher
	topic     string
	mu        sync.Mutex
}

func NewQueryLogger(w io.Writer) *QueryLogger {
	return &QueryLogger{writer: w}
}

func NewFileQueryLogger(path string) (*QueryLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, err
	}

	cleanPath := filepath.Clean(path)
	f, err := os.OpenFile(cleanPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path is from application config, not user input
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, f)
	return NewQueryLogger(mw), nil
}

// WithPublisher additionally publishes every entry to topic.
func (l *QueryLogger) WithPublisher(p Publisher, topic string) *QueryLogger {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.publisher = p
	l.topic = topic
	return l
}

func (l *QueryLogger) Log(entry QueryLogEntry) {
	entry.Timestamp = time.Now()
	entry.LatencyMs = entry.Duration.Milliseconds()

	body, err := json.Marshal(entry)
	if err != nil {
		slog.Error("failed to encode query log entry", "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.writer.Write(append(body, '\n')); err != nil {
		slog.Error("failed to write query log entry", "error", err)
	}
	if l.publisher != nil {
		if err := l.publisher.Publish(l.topic, body); err != nil {
			slog.Warn("failed to publish query log entry", "topic", l.topic, "error", err)
		}
	}
}
