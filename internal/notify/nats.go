package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the subject prefix used when none is configured.
const DefaultSubject = "nfefetch.events"

// Envelope is the JSON body published for every event.
type Envelope struct {
	Source string    `json:"source"`
	SentAt time.Time `json:"sent_at"`
	Event  Event     `json:"event"`
}

// natsPublisher is the subset of *nats.Conn the sink uses.
type natsPublisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes each event as JSON on "<subject>.<kind>".
type NATSSink struct {
	conn    natsPublisher
	nc      *nats.Conn
	subject string
	source  string
	now     func() time.Time
	logger  *slog.Logger
}

// DialNATS connects to url and returns a sink publishing under subject.
// Reconnects are unlimited so a flapping server never fails a run.
func DialNATS(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	nc, err := nats.Connect(url,
		nats.Name("nfefetch"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats at %s: %w", url, err)
	}
	s := newNATSSink(nc, subject, logger)
	s.nc = nc
	return s, nil
}

func newNATSSink(conn natsPublisher, subject string, logger *slog.Logger) *NATSSink {
	if subject == "" {
		subject = DefaultSubject
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &NATSSink{
		conn:    conn,
		subject: subject,
		source:  "nfefetch",
		now:     time.Now,
		logger:  logger,
	}
}

// Subject returns the subject an event of kind k is published on.
func (s *NATSSink) Subject(k Kind) string {
	return s.subject + "." + string(k)
}

// Deliver implements Sink. Publish failures are logged, never returned:
// the display must not be able to fail a run.
func (s *NATSSink) Deliver(e Event) {
	data, err := json.Marshal(Envelope{Source: s.source, SentAt: s.now().UTC(), Event: e})
	if err != nil {
		s.logger.Warn("encode notification", "kind", e.Kind, "error", err)
		return
	}
	if err := s.conn.Publish(s.Subject(e.Kind), data); err != nil {
		s.logger.Warn("publish notification", "subject", s.Subject(e.Kind), "error", err)
	}
}

// Close flushes pending messages and closes the connection.
func (s *NATSSink) Close() error {
	if s.nc == nil {
		return nil
	}
	return s.nc.Drain()
}
