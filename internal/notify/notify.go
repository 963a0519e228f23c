// Package notify delivers best-effort "actor did something" notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// SubjectPrefix is the NATS subject prefix; the actor id is appended.
const SubjectPrefix = "circle.notify."

// Sink receives notifications. Implementations swallow their own failures.
type Sink interface {
	Notify(ctx context.Context, actorName, actorID, preview string)
}

// Message is the payload published for each notification.
type Message struct {
	ActorID   string    `json:"actorId"`
	ActorName string    `json:"actorName"`
	Preview   string    `json:"preview"`
	SentAt    time.Time `json:"sentAt"`
}

// Publisher is the subset of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes notifications on circle.notify.<actorID>.
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn
	logger *slog.Logger
}

// DialNATS connects to the NATS server at url and returns a sink over it.
func DialNATS(url string) (*NATSSink, error) {
	nc, err := nats.Connect(url,
		nats.Name("circled"),
		nats.Timeout(10*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
	}
	s := NewNATSSink(nc)
	s.conn = nc
	return s, nil
}

// NewNATSSink creates a sink over an existing publisher.
func NewNATSSink(pub Publisher) *NATSSink {
	return &NATSSink{pub: pub, logger: slog.Default()}
}

func (s *NATSSink) Notify(_ context.Context, actorName, actorID, preview string) {
	data, err := json.Marshal(Message{
		ActorID:   actorID,
		ActorName: actorName,
		Preview:   preview,
		SentAt:    time.Now().UTC(),
	})
	if err != nil {
		s.logger.Warn("encoding notification", "actor", actorID, "error", err)
		return
	}
	if err := s.pub.Publish(SubjectPrefix+actorID, data); err != nil {
		s.logger.Warn("publishing notification", "actor", actorID, "error", err)
	}
}

// Close drains the underlying connection when the sink owns one.
func (s *NATSSink) Close() {
	if s.conn != nil {
		if err := s.conn.Drain(); err != nil {
			s.conn.Close()
		}
	}
}

// LogSink writes notifications to a structured logger.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink on slog.Default().
func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default()}
}

func (s *LogSink) Notify(_ context.Context, actorName, actorID, preview string) {
	s.logger.Info("notification", "actor", actorID, "name", actorName, "preview", preview)
}

// Multi fans a notification out to every sink in order.
type Multi []Sink

func (m Multi) Notify(ctx context.Context, actorName, actorID, preview string) {
	for _, s := range m {
		s.Notify(ctx, actorName, actorID, preview)
	}
}

// Preview shortens s to at most n runes, adding an ellipsis when cut.
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}
