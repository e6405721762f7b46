// Package kafka publishes incident-opened notices to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/linnemanlabs/go-core/log"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/linnemanlabs/signalos/internal/event"
	"github.com/linnemanlabs/signalos/internal/incident"
)

// KindIncidentOpened is the notice kind and the value of the "kind" header.
const KindIncidentOpened = "incident.opened"

const writeTimeout = 10 * time.Second

// Writer is the subset of *kafkago.Writer the notifier uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Notice is the message value. It carries the incident as stored and the
// event that opened it, without the event's free-form extras.
type Notice struct {
	Kind     string             `json:"kind"`
	Incident *incident.Incident `json:"incident"`
	Event    noticeEvent        `json:"event"`
}

type noticeEvent struct {
	ID         string             `json:"id"`
	Source     string             `json:"source"`
	Type       string             `json:"type"`
	Title      string             `json:"title"`
	Entity     event.EntityRef    `json:"entity"`
	OccurredAt time.Time          `json:"occurred_at"`
	Tags       []string           `json:"tags"`
	Score      float64            `json:"score"`
	Features   map[string]float64 `json:"features"`
}

// Notifier writes one message per opened incident, keyed by incident ID so
// all notices for an incident land on the same partition.
type Notifier struct {
	w      Writer
	topic  string
	logger log.Logger
}

// New creates a notifier writing to topic on brokers.
func New(brokers []string, topic string, logger log.Logger) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		WriteTimeout: writeTimeout,
	}
	return NewWithWriter(w, topic, logger)
}

// NewWithWriter creates a notifier on an existing writer. topic is only used
// for logging; the writer decides where messages go.
func NewWithWriter(w Writer, topic string, logger log.Logger) *Notifier {
	if logger == nil {
		logger = log.Nop()
	}
	return &Notifier{w: w, topic: topic, logger: logger}
}

// Notify publishes a notice that inc was opened by ev.
func (n *Notifier) Notify(ctx context.Context, inc *incident.Incident, ev *event.Event) error {
	value, err := json.Marshal(buildNotice(inc, ev))
	if err != nil {
		return fmt.Errorf("kafka: marshal notice: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(inc.ID),
		Value: value,
		Headers: []kafkago.Header{
			{Key: "kind", Value: []byte(KindIncidentOpened)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	}
	if err := n.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka: write to %s: %w", n.topic, err)
	}

	n.logger.Info(ctx, "kafka notice published", "incident_id", inc.ID, "topic", n.topic)
	return nil
}

// Close flushes and closes the underlying writer.
func (n *Notifier) Close() error {
	return n.w.Close()
}

func buildNotice(inc *incident.Incident, ev *event.Event) Notice {
	tags := ev.Tags
	if tags == nil {
		tags = []string{}
	}
	return Notice{
		Kind:     KindIncidentOpened,
		Incident: inc,
		Event: noticeEvent{
			ID:         ev.ID,
			Source:     ev.Source,
			Type:       ev.Type,
			Title:      ev.Title,
			Entity:     ev.Entity,
			OccurredAt: ev.OccurredAt.UTC(),
			Tags:       tags,
			Score:      ev.Score,
			Features:   ev.Features,
		},
	}
}
