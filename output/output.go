// Package output carries one-way status messages ("I understood: ...") to
// whatever presentation layers are attached.
package output

import (
	"context"
	"fmt"
	"sync"
	"time"

	"blueberry-voice/metrics"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindStatus     Kind = "status"
	KindTranscript Kind = "transcript"
	KindAlert      Kind = "alert"
	KindNote       Kind = "note"
	KindError      Kind = "error"
)

type Message struct {
	ID   string    `json:"id"`
	Kind Kind      `json:"kind"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}

// Emitter never blocks the caller.
type Emitter interface {
	Emit(kind Kind, text string)
}

type Sink interface {
	Send(ctx context.Context, msg Message) error
}

const DefaultBuffer = 64

// Channel queues messages and fans them out to its sinks from Run.
type Channel struct {
	messages    chan Message
	sinks       []Sink
	sendTimeout time.Duration
	logger      zerolog.Logger
}

type Config struct {
	Sinks []Sink
	// Buffer is the queue length; messages beyond it are dropped.
	Buffer int
	// SendTimeout bounds each sink call. 0 means 5s.
	SendTimeout time.Duration
	Logger      zerolog.Logger
}

func New(cfg *Config) (*Channel, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	for i, s := range cfg.Sinks {
		if s == nil {
			return nil, fmt.Errorf("sink %d is nil", i)
		}
	}

	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = DefaultBuffer
	}

	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &Channel{
		messages:    make(chan Message, buffer),
		sinks:       cfg.Sinks,
		sendTimeout: timeout,
		logger:      cfg.Logger,
	}, nil
}

func (c *Channel) Emit(kind Kind, text string) {
	msg := Message{
		ID:   uuid.NewString(),
		Kind: kind,
		Text: text,
		Time: time.Now(),
	}

	select {
	case c.messages <- msg:
	default:
		metrics.OutputDropped.Inc()
		c.logger.Warn().Str("kind", string(kind)).Str("text", text).Msg("output queue full, message dropped")
	}
}

// Run delivers messages until ctx is done, then flushes what is queued.
func (c *Channel) Run(ctx context.Context) error {
	for {
		select {
		case msg := <-c.messages:
			c.deliver(ctx, msg)
		case <-ctx.Done():
			c.flush()
			return nil
		}
	}
}

func (c *Channel) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), c.sendTimeout)
	defer cancel()

	for {
		select {
		case msg := <-c.messages:
			c.deliver(ctx, msg)
		default:
			return
		}
	}
}

func (c *Channel) deliver(ctx context.Context, msg Message) {
	for _, s := range c.sinks {
		sendCtx, cancel := context.WithTimeout(ctx, c.sendTimeout)
		err := s.Send(sendCtx, msg)
		cancel()

		if err != nil {
			c.logger.Warn().Err(err).Str("id", msg.ID).Msg("output sink failed")
		}
	}
}

type logSink struct {
	logger zerolog.Logger
}

// NewLogSink writes every message to logger.
func NewLogSink(logger zerolog.Logger) Sink {
	return &logSink{logger: logger}
}

func (l *logSink) Send(_ context.Context, msg Message) error {
	l.logger.Info().
		Str("id", msg.ID).
		Str("kind", string(msg.Kind)).
		Msg(msg.Text)
	return nil
}

// MemorySink keeps delivered messages, for tests and dry runs.
type MemorySink struct {
	mu       sync.Mutex
	messages []Message
}

func (m *MemorySink) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, msg)
	return nil
}

// Emit records directly, so MemorySink is also a synchronous Emitter.
func (m *MemorySink) Emit(kind Kind, text string) {
	_ = m.Send(context.Background(), Message{ID: uuid.NewString(), Kind: kind, Text: text, Time: time.Now()})
}

func (m *MemorySink) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]Message(nil), m.messages...)
}

// Texts returns the text of every message in order.
func (m *MemorySink) Texts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	texts := make([]string, len(m.messages))
	for i, msg := range m.messages {
		texts[i] = msg.Text
	}
	return texts
}
