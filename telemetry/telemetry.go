// Package telemetry traces heartbeat probes and exports latency samples.
package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/vinayprograms/healthcheck/errors"
)

// Exporter is the interface for latency sample exporters.
type Exporter interface {
	// Record exports one probe outcome.
	Record(s Sample)
	// Flush sends any buffered data.
	Flush() error
	// Close closes the exporter.
	Close() error
}

// Sample is one probe outcome.
type Sample struct {
	EndpointID string    `json:"endpoint_id"`
	Seq        uint64    `json:"seq"`
	Outcome    string    `json:"outcome"`
	RTT        int64     `json:"rtt_ms"`
	Latency    int64     `json:"latency_ms"`
	Changed    bool      `json:"changed,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewExporter creates a new exporter based on protocol.
func NewExporter(protocol, endpoint string) (Exporter, error) {
	switch protocol {
	case "http":
		return NewHTTPExporter(endpoint), nil
	case "file":
		return NewFileExporter(endpoint)
	case "noop", "":
		return NewNoopExporter(), nil
	default:
		return nil, errors.InvalidConfig("unknown telemetry protocol: " + protocol)
	}
}

// --- HTTP Exporter ---

const httpBatchSize = 100

// HTTPExporter posts batches of samples to an HTTP endpoint.
type HTTPExporter struct {
	endpoint string
	client   *http.Client
	buffer   []Sample
	mu       sync.Mutex
}

// NewHTTPExporter creates a new HTTP exporter.
func NewHTTPExporter(endpoint string) *HTTPExporter {
	return &HTTPExporter{
		endpoint: endpoint,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		buffer: make([]Sample, 0, httpBatchSize),
	}
}

func (e *HTTPExporter) Record(s Sample) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.buffer = append(e.buffer, s)
	if len(e.buffer) >= httpBatchSize {
		e.flush()
	}
}

func (e *HTTPExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.flush()
}

func (e *HTTPExporter) flush() error {
	if len(e.buffer) == 0 {
		return nil
	}

	data, err := json.Marshal(e.buffer)
	if err != nil {
		return errors.Wrap(err, "encoding samples")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, bytes.NewReader(data))
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "building telemetry request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrCodeNetworkErr, "posting samples")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return errors.Newf(errors.ErrCodeNetworkErr, "telemetry endpoint returned %d", resp.StatusCode)
	}

	e.buffer = e.buffer[:0]
	return nil
}

func (e *HTTPExporter) Close() error {
	return e.Flush()
}

// --- File Exporter ---

// FileExporter appends samples to a JSONL file.
type FileExporter struct {
	file *os.File
	mu   sync.Mutex
}

// NewFileExporter creates a new file exporter.
func NewFileExporter(path string) (*FileExporter, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrCodeInvalidConfig, "failed to open telemetry file")
	}
	return &FileExporter{file: file}, nil
}

func (e *FileExporter) Record(s Sample) {
	data, err := json.Marshal(s)
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.file.Write(append(data, '\n'))
}

func (e *FileExporter) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.file.Sync()
}

func (e *FileExporter) Close() error {
	e.Flush()
	return e.file.Close()
}

// --- Noop Exporter ---

// NoopExporter discards all samples.
type NoopExporter struct{}

// NewNoopExporter creates a new noop exporter.
func NewNoopExporter() *NoopExporter {
	return &NoopExporter{}
}

func (e *NoopExporter) Record(s Sample) {}
func (e *NoopExporter) Flush() error    { return nil }
func (e *NoopExporter) Close() error    { return nil }
