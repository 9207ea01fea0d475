package workflow

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// EventType tags a progress event frame.
type EventType string

const (
	EventStep    EventType = "step"
	EventContent EventType = "content"
	EventUsage   EventType = "usage"
	EventError   EventType = "error"
	EventDone    EventType = "done"
)

// Event is one progress frame emitted by the engine. The wire format is
// newline-delimited type-tagged JSON, terminated by a done frame, so the
// stream can be relayed directly over a push channel such as SSE.
type Event struct {
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id,omitempty"`
	StepID     string    `json:"step_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`

	// step frames
	Status Status `json:"status,omitempty"`

	// content frames
	Content string `json:"content,omitempty"`

	// usage frames
	InputTokens  int     `json:"input_tokens,omitempty"`
	OutputTokens int     `json:"output_tokens,omitempty"`
	Cost         float64 `json:"cost,omitempty"`
	Model        string  `json:"model,omitempty"`

	// error frames
	Message string `json:"message,omitempty"`
}

// Emitter receives engine progress events. Emitters must not block for
// long; the engine calls them inline on the execution path.
type Emitter interface {
	Emit(event *Event)
}

// NopEmitter discards events.
type NopEmitter struct{}

func (NopEmitter) Emit(*Event) {}

// StreamEmitter writes newline-delimited JSON frames to a writer. Safe
// for concurrent use.
type StreamEmitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewStreamEmitter creates an emitter over w.
func NewStreamEmitter(w io.Writer) *StreamEmitter {
	return &StreamEmitter{enc: json.NewEncoder(w)}
}

// Emit writes one frame. Encoding errors are dropped; the stream is a
// best-effort relay, not the source of truth.
func (s *StreamEmitter) Emit(event *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// Done writes the terminating sentinel frame.
func (s *StreamEmitter) Done(workflowID string) {
	s.Emit(&Event{Type: EventDone, WorkflowID: workflowID, Timestamp: time.Now()})
}

// NATSEmitter publishes events to per-workflow NATS subjects:
// <prefix>.<workflow_id>.<type>.
type NATSEmitter struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewNATSEmitter creates an emitter publishing under the subject prefix,
// defaulting to "semflow.events".
func NewNATSEmitter(conn *nats.Conn, prefix string, logger *slog.Logger) *NATSEmitter {
	if prefix == "" {
		prefix = "semflow.events"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSEmitter{conn: conn, prefix: prefix, logger: logger}
}

// Emit publishes one frame. Publish failures are logged, not returned;
// event delivery never fails a step execution.
func (n *NATSEmitter) Emit(event *Event) {
	data, err := json.Marshal(event)
	if err != nil {
		n.logger.Error("marshaling event", "error", err)
		return
	}
	subject := fmt.Sprintf("%s.%s.%s", n.prefix, event.WorkflowID, event.Type)
	if err := n.conn.Publish(subject, data); err != nil {
		n.logger.Error("publishing event", "subject", subject, "error", err)
	}
}

// MultiEmitter fans one event out to several emitters.
type MultiEmitter []Emitter

// NewMultiEmitter builds a fan-out emitter over the given emitters.
func NewMultiEmitter(emitters ...Emitter) MultiEmitter {
	return MultiEmitter(emitters)
}

func (m MultiEmitter) Emit(event *Event) {
	for _, emitter := range m {
		emitter.Emit(event)
	}
}
