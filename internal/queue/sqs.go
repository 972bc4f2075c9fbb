package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQS caps message delay at 15 minutes and long polling at 20 seconds.
const (
	maxSQSDelay = 900 * time.Second
	maxSQSWait  = 20 * time.Second
)

type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// SQSBroker carries jobs as SQS messages. The message visibility timeout
// provides the lease; retries are re-sent with a delivery delay and dead
// jobs are copied to a dead-letter queue when one is configured.
type SQSBroker struct {
	client     sqsAPI
	queueURL   string
	deadURL    string
	visibility time.Duration
	now        func() time.Time
}

// NewSQSBroker wraps an SQS queue. deadLetterURL may be empty.
func NewSQSBroker(client *sqs.Client, queueURL, deadLetterURL string, visibility time.Duration) *SQSBroker {
	if client == nil {
		panic("queue: SQS client cannot be nil")
	}
	return newSQSBroker(client, queueURL, deadLetterURL, visibility)
}

func newSQSBroker(client sqsAPI, queueURL, deadLetterURL string, visibility time.Duration) *SQSBroker {
	if queueURL == "" {
		panic("queue: SQS queueURL cannot be empty")
	}
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	return &SQSBroker{
		client:     client,
		queueURL:   queueURL,
		deadURL:    deadLetterURL,
		visibility: visibility,
		now:        time.Now,
	}
}

func (b *SQSBroker) Enqueue(ctx context.Context, job *Job) error {
	if err := job.prepare(b.now()); err != nil {
		return err
	}
	return b.send(ctx, b.queueURL, job, 0)
}

func (b *SQSBroker) send(ctx context.Context, url string, job *Job, delay time.Duration) error {
	body, err := encodeJob(job)
	if err != nil {
		return err
	}
	if delay > maxSQSDelay {
		delay = maxSQSDelay
	}
	_, err = b.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:     aws.String(url),
		MessageBody:  aws.String(body),
		DelaySeconds: int32(delay / time.Second),
	})
	if err != nil {
		return fmt.Errorf("queue: failed to send SQS message: %w", err)
	}
	return nil
}

func (b *SQSBroker) Lease(ctx context.Context, wait time.Duration) (*Job, error) {
	if wait > maxSQSWait {
		wait = maxSQSWait
	}
	out, err := b.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    aws.String(b.queueURL),
		MaxNumberOfMessages:         1,
		WaitTimeSeconds:             int32(wait / time.Second),
		VisibilityTimeout:           int32(b.visibility / time.Second),
		MessageSystemAttributeNames: []types.MessageSystemAttributeName{types.MessageSystemAttributeNameApproximateReceiveCount},
	})
	if err != nil {
		return nil, fmt.Errorf("queue: failed to receive SQS messages: %w", err)
	}
	if len(out.Messages) == 0 {
		return nil, nil
	}
	msg := out.Messages[0]
	receives, _ := strconv.Atoi(msg.Attributes[string(types.MessageSystemAttributeNameApproximateReceiveCount)])
	return b.JobFromMessage(aws.ToString(msg.Body), aws.ToString(msg.ReceiptHandle), receives)
}

// JobFromMessage decodes a delivered message into an active job. Attempts
// made before the last re-send are carried in the body; receives counts
// deliveries of this message.
func (b *SQSBroker) JobFromMessage(body, receiptHandle string, receives int) (*Job, error) {
	job, err := decodeJob(body)
	if err != nil {
		return nil, err
	}
	if receives < 1 {
		receives = 1
	}
	job.Attempts += receives
	job.State = StateActive
	job.UpdatedAt = b.now().UTC()
	job.ReceiptHandle = receiptHandle
	return job, nil
}

func (b *SQSBroker) delete(ctx context.Context, job *Job) error {
	if job == nil || job.ReceiptHandle == "" {
		return ErrLeaseLost
	}
	_, err := b.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(b.queueURL),
		ReceiptHandle: aws.String(job.ReceiptHandle),
	})
	if err != nil {
		var invalid *types.ReceiptHandleIsInvalid
		if errors.As(err, &invalid) {
			return ErrLeaseLost
		}
		return fmt.Errorf("queue: failed to delete SQS message: %w", err)
	}
	return nil
}

func (b *SQSBroker) Complete(ctx context.Context, job *Job) error {
	if err := b.delete(ctx, job); err != nil {
		return err
	}
	job.State = StateCompleted
	return nil
}

// Retry re-sends the job with its attempt count and a delivery delay, then
// removes the leased message.
func (b *SQSBroker) Retry(ctx context.Context, job *Job, delay time.Duration, cause error) error {
	if job == nil {
		return ErrJobNotFound
	}
	next := job.Clone()
	next.State = StatePending
	next.LastError = errorText(cause)
	next.UpdatedAt = b.now().UTC()
	if err := b.send(ctx, b.queueURL, next, delay); err != nil {
		return err
	}
	if err := b.delete(ctx, job); err != nil {
		return err
	}
	job.State = StateFailed
	job.LastError = next.LastError
	return nil
}

func (b *SQSBroker) Dead(ctx context.Context, job *Job, cause error) error {
	if job == nil {
		return ErrJobNotFound
	}
	parked := job.Clone()
	parked.State = StateDead
	parked.LastError = errorText(cause)
	parked.UpdatedAt = b.now().UTC()
	if b.deadURL != "" {
		if err := b.send(ctx, b.deadURL, parked, 0); err != nil {
			return err
		}
	}
	if err := b.delete(ctx, job); err != nil {
		return err
	}
	job.State = StateDead
	job.LastError = parked.LastError
	return nil
}
