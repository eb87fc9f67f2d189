// Package publisher mirrors committed audit entries to Kafka so
// downstream consumers can build their own views of the trail. Kafka is
// a mirror here: the audit store remains the source of truth.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"medvault/internal/audit"
)

type Kafka struct {
	client *kgo.Client
	topic  string
}

func NewKafka(brokers []string, topic string) (*Kafka, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ProducerBatchCompression(kgo.SnappyCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Kafka{client: client, topic: topic}, nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (p *Kafka) EnsureTopic(ctx context.Context) error {
	admin := kadm.NewClient(p.client)
	resp, err := admin.CreateTopics(ctx, 1, 1, nil, p.topic)
	if err != nil {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	for _, t := range resp {
		if t.Err != nil && !errors.Is(t.Err, kerr.TopicAlreadyExists) {
			return fmt.Errorf("create topic %s: %w", p.topic, t.Err)
		}
	}
	return nil
}

// message is the JSON payload published per entry. Field names are part
// of the consumer contract.
type message struct {
	Sequence  uint64 `json:"sequence"`
	Timestamp string `json:"timestamp"`
	Actor     string `json:"actor"`
	Action    string `json:"action"`
	RecordID  uint64 `json:"record_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func (p *Kafka) Publish(ctx context.Context, entry audit.Entry) error {
	payload, err := json.Marshal(message{
		Sequence:  entry.Sequence,
		Timestamp: entry.Timestamp.Format(time.RFC3339Nano),
		Actor:     entry.Actor.String(),
		Action:    string(entry.Action),
		RecordID:  entry.RecordID,
		Subject:   entry.Subject,
		RequestID: entry.RequestID,
	})
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(strconv.FormatUint(entry.RecordID, 10)),
		Value: payload,
	}
	if err := p.client.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("produce audit entry: %w", err)
	}
	return nil
}

func (p *Kafka) Close() {
	p.client.Close()
}
