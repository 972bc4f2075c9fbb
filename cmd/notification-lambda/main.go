package main

import (
	"context"
	"os"
	"strconv"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/wolfman30/agency-leads/cmd/mainconfig"
	"github.com/wolfman30/agency-leads/internal/app/bootstrap"
	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/queue"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

type jobDecoder interface {
	JobFromMessage(body, receiptHandle string, receives int) (*queue.Job, error)
}

type jobProcessor interface {
	ProcessJob(ctx context.Context, job *queue.Job) error
}

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	if err := prepareConfig(cfg); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	ctx := context.Background()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}
	broker := queue.NewSQSBroker(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL, cfg.NotificationDLQURL, cfg.QueueVisibilityTimeout)
	sender, err := bootstrap.BuildEmailSender(cfg, &awsCfg, logger)
	if err != nil {
		logger.Error("failed to configure email sender", "error", err)
		os.Exit(1)
	}
	templates, err := bootstrap.BuildTemplates(ctx, cfg, &awsCfg, logger)
	if err != nil {
		logger.Error("failed to load templates", "error", err)
		os.Exit(1)
	}
	deadLetters, closeSink := bootstrap.BuildDeadLetterSink(cfg, logger)
	defer closeSink()

	pool := bootstrap.BuildWorkerPool(cfg, bootstrap.WorkerDeps{
		Broker:      broker,
		Sender:      sender,
		Templates:   templates,
		DeadLetters: deadLetters,
	}, logger)

	lambda.Start(newHandler(broker, pool, logger))
}

// prepareConfig pins the queue backend to SQS, so both queue URLs are
// required before any record is handled.
func prepareConfig(cfg *appconfig.Config) error {
	cfg.QueueBackend = "sqs"
	return cfg.Validate()
}

// newHandler processes each SQS record as one delivery attempt. Records
// that could not be settled are reported back so SQS redelivers only those.
func newHandler(decoder jobDecoder, processor jobProcessor, logger *logging.Logger) func(context.Context, events.SQSEvent) (events.SQSEventResponse, error) {
	return func(ctx context.Context, evt events.SQSEvent) (events.SQSEventResponse, error) {
		var resp events.SQSEventResponse
		for _, record := range evt.Records {
			receives, _ := strconv.Atoi(record.Attributes["ApproximateReceiveCount"])
			job, err := decoder.JobFromMessage(record.Body, record.ReceiptHandle, receives)
			if err != nil {
				// An undecodable body will never succeed; let the queue's redrive policy park it.
				logger.Error("failed to decode notification job", "error", err, "message_id", record.MessageId)
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
				continue
			}
			if err := processor.ProcessJob(ctx, job); err != nil {
				resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
			}
		}
		return resp, nil
	}
}
