package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
)

func TestKafkaDeadLetterSinkPublishesEvent(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		var ev DeadLetterEvent
		if err := json.Unmarshal(val, &ev); err != nil {
			return err
		}
		if ev.JobID != "job-1" || ev.Template != "admin-notice" || ev.Attempts != 5 || ev.LastError != "bounced" {
			return errors.New("unexpected dead letter payload")
		}
		return nil
	})
	sink := NewKafkaDeadLetterSink(producer, "")
	defer sink.Close()

	job := &Job{ID: "job-1", TemplateKey: "admin-notice", Attempts: 5, LastError: "bounced", Data: map[string]string{"email": "secret@example.com"}}
	if err := sink.JobDead(context.Background(), job); err != nil {
		t.Fatalf("job dead: %v", err)
	}
}

func TestKafkaDeadLetterSinkReportsFailure(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	sink := NewKafkaDeadLetterSink(producer, "dead")
	defer sink.Close()

	err := sink.JobDead(context.Background(), &Job{ID: "job-2"})
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected producer error, got %v", err)
	}
}

func TestLogDeadLetterSink(t *testing.T) {
	if err := NewLogDeadLetterSink(nil).JobDead(context.Background(), &Job{ID: "job-3"}); err != nil {
		t.Fatalf("log sink should not fail: %v", err)
	}
}
