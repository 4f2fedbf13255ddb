// Package sink publishes finished backtests to Kafka.
package sink

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"backtesting-engine/internal/events"
	"backtesting-engine/internal/report"
)

const (
	TypeFill    = "fill"
	TypeSummary = "summary"
)

// Sink receives the outcome of a run.
type Sink interface {
	PublishRun(ctx context.Context, runID string, summary report.Summary, fills []events.Fill) error
	Close() error
}

// FillMessage is the payload of one fill, keyed by symbol.
type FillMessage struct {
	Type       string  `json:"type"`
	RunID      string  `json:"run_id,omitempty"`
	OrderID    string  `json:"order_id"`
	Symbol     string  `json:"symbol"`
	Direction  string  `json:"direction"`
	Quantity   int64   `json:"quantity"`
	Price      float64 `json:"price"`
	Commission float64 `json:"commission"`
	Timestamp  int64   `json:"timestamp"`
}

// NewFillMessage converts f; runID may be empty while the run is in progress.
func NewFillMessage(runID string, f events.Fill) FillMessage {
	return FillMessage{
		Type:       TypeFill,
		RunID:      runID,
		OrderID:    f.OrderID(),
		Symbol:     f.Symbol(),
		Direction:  f.Direction().String(),
		Quantity:   f.Quantity(),
		Price:      f.Price(),
		Commission: f.Commission(),
		Timestamp:  f.Timestamp(),
	}
}

// SummaryMessage is the payload of a run summary, keyed by run id.
type SummaryMessage struct {
	Type    string         `json:"type"`
	RunID   string         `json:"run_id"`
	Summary report.Summary `json:"summary"`
}

// Publisher writes run results to one topic through a synchronous producer.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *zap.Logger
}

// ProducerConfig is the producer configuration used by NewKafkaPublisher.
func ProducerConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.ClientID = "backtesting-engine"
	config.Version = sarama.V2_8_0_0
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 3
	config.Producer.Return.Successes = true
	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewKafkaPublisher connects to brokers.
func NewKafkaPublisher(brokers []string, topic string, log *zap.Logger) (*Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers")
	}
	producer, err := sarama.NewSyncProducer(brokers, ProducerConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return NewPublisher(producer, topic, log), nil
}

// NewPublisher wraps an existing producer.
func NewPublisher(producer sarama.SyncProducer, topic string, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{producer: producer, topic: topic, log: log}
}

// PublishRun sends one message per fill followed by the summary, as a single
// batch.
func (p *Publisher) PublishRun(ctx context.Context, runID string, summary report.Summary, fills []events.Fill) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(fills)+1)
	for _, f := range fills {
		payload, err := json.Marshal(NewFillMessage(runID, f))
		if err != nil {
			return fmt.Errorf("marshal fill %s: %w", f.OrderID(), err)
		}
		msgs = append(msgs, p.message(f.Symbol(), TypeFill, payload))
	}

	payload, err := json.Marshal(SummaryMessage{Type: TypeSummary, RunID: runID, Summary: summary})
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	msgs = append(msgs, p.message(runID, TypeSummary, payload))

	if err := p.producer.SendMessages(msgs); err != nil {
		p.log.Error("publish run failed", zap.String("run_id", runID), zap.String("topic", p.topic), zap.Error(err))
		return fmt.Errorf("publish run %s: %w", runID, err)
	}
	p.log.Info("run published",
		zap.String("run_id", runID),
		zap.String("topic", p.topic),
		zap.Int("messages", len(msgs)),
	)
	return nil
}

func (p *Publisher) message(key, typ string, payload []byte) *sarama.ProducerMessage {
	return &sarama.ProducerMessage{
		Topic:   p.topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{{Key: []byte("type"), Value: []byte(typ)}},
	}
}

// Close shuts the producer down.
func (p *Publisher) Close() error {
	return p.producer.Close()
}
