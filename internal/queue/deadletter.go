package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// DeadLetterSink is told about every job that exhausted its attempts or
// failed permanently.
type DeadLetterSink interface {
	JobDead(ctx context.Context, job *Job) error
}

// LogDeadLetterSink records dead jobs in the service log.
type LogDeadLetterSink struct {
	logger *logging.Logger
}

func NewLogDeadLetterSink(logger *logging.Logger) *LogDeadLetterSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogDeadLetterSink{logger: logger}
}

func (s *LogDeadLetterSink) JobDead(ctx context.Context, job *Job) error {
	s.logger.Error("notification dead-lettered",
		"job_id", job.ID,
		"template", job.TemplateKey,
		"lead_id", job.LeadID,
		"attempts", job.Attempts,
		"error", job.LastError,
	)
	return nil
}

// DeadLetterEvent is the record published for a dead job. Lead field
// values are left out so the topic carries no contact details.
type DeadLetterEvent struct {
	JobID     string    `json:"jobId"`
	Template  string    `json:"template"`
	LeadID    string    `json:"leadId,omitempty"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"lastError"`
	DeadAt    time.Time `json:"deadAt"`
}

// KafkaDeadLetterSink publishes dead jobs to a Kafka topic keyed by job id.
type KafkaDeadLetterSink struct {
	producer sarama.SyncProducer
	topic    string
	now      func() time.Time
}

// NewKafkaDeadLetterSink wraps an existing producer.
func NewKafkaDeadLetterSink(producer sarama.SyncProducer, topic string) *KafkaDeadLetterSink {
	if producer == nil {
		panic("queue: kafka producer cannot be nil")
	}
	if topic == "" {
		topic = "notifications.dead"
	}
	return &KafkaDeadLetterSink{producer: producer, topic: topic, now: time.Now}
}

// NewKafkaProducer dials brokers with a producer config that waits for all
// in-sync replicas.
func NewKafkaProducer(brokers []string) (sarama.SyncProducer, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 3
	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("queue: kafka producer: %w", err)
	}
	return producer, nil
}

func (s *KafkaDeadLetterSink) JobDead(ctx context.Context, job *Job) error {
	payload, err := json.Marshal(DeadLetterEvent{
		JobID:     job.ID,
		Template:  job.TemplateKey,
		LeadID:    job.LeadID,
		Attempts:  job.Attempts,
		LastError: job.LastError,
		DeadAt:    s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("queue: encode dead letter: %w", err)
	}
	_, _, err = s.producer.SendMessage(&sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(job.ID),
		Value: sarama.ByteEncoder(payload),
	})
	if err != nil {
		return fmt.Errorf("queue: publish dead letter %s: %w", job.ID, err)
	}
	return nil
}

// Close releases the producer.
func (s *KafkaDeadLetterSink) Close() error {
	return s.producer.Close()
}
