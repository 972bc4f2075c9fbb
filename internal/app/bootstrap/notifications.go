package bootstrap

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/notify"
	"github.com/wolfman30/agency-leads/internal/observability/metrics"
	"github.com/wolfman30/agency-leads/internal/queue"
	notificationworker "github.com/wolfman30/agency-leads/internal/worker/notification"
	"github.com/wolfman30/agency-leads/pkg/logging"
)

// BuildBroker returns the notification broker named by QUEUE_BACKEND.
func BuildBroker(cfg *appconfig.Config, redisClient *redis.Client, awsCfg *aws.Config, logger *logging.Logger) (queue.Broker, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch cfg.QueueBackend {
	case "redis":
		if redisClient == nil {
			return nil, fmt.Errorf("bootstrap: QUEUE_BACKEND=redis requires a reachable REDIS_ADDR")
		}
		logger.Info("notification broker: redis", "prefix", cfg.QueuePrefix)
		return queue.NewRedisBroker(redisClient, cfg.QueuePrefix,
			queue.WithRedisVisibilityTimeout(cfg.QueueVisibilityTimeout),
			queue.WithRedisRetention(cfg.CompletedRetention),
		), nil
	case "sqs":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: QUEUE_BACKEND=sqs requires AWS configuration")
		}
		logger.Info("notification broker: sqs", "queue_url", cfg.NotificationQueueURL)
		return queue.NewSQSBroker(sqs.NewFromConfig(*awsCfg), cfg.NotificationQueueURL, cfg.NotificationDLQURL, cfg.QueueVisibilityTimeout), nil
	default:
		logger.Warn("notification broker: memory; queued jobs are lost on restart")
		return queue.NewMemoryBroker(
			queue.WithMemoryVisibilityTimeout(cfg.QueueVisibilityTimeout),
			queue.WithMemoryRetention(cfg.CompletedRetention),
		), nil
	}
}

// BuildPublisher returns the lead notifier that enqueues onto broker.
func BuildPublisher(cfg *appconfig.Config, broker queue.Broker, logger *logging.Logger) *queue.Publisher {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.AdminNotifyEmail == "" {
		logger.Warn("ADMIN_NOTIFY_EMAIL not set; admin notices disabled")
	}
	return queue.NewPublisher(broker, logger,
		queue.WithAdminEmail(cfg.AdminNotifyEmail),
		queue.WithSignature(cfg.MailFromName),
		queue.WithJobMaxAttempts(cfg.MaxAttempts),
	)
}

// BuildEmailSender returns the sender named by MAIL_PROVIDER. A provider
// that is selected but not configured falls back to the stub in
// development and is an error in production.
func BuildEmailSender(cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	if logger == nil {
		logger = logging.Default()
	}
	var sender notify.EmailSender
	switch cfg.MailProvider {
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.MailFromEmail,
			FromName:  cfg.MailFromName,
		}, logger); s != nil {
			sender = s
		}
	case "ses":
		if awsCfg != nil {
			if s := notify.NewSESSender(sesv2.NewFromConfig(*awsCfg), notify.SESConfig{
				FromEmail:        cfg.MailFromEmail,
				FromName:         cfg.MailFromName,
				ConfigurationSet: cfg.SESConfigurationSet,
			}, logger); s != nil {
				sender = s
			}
		}
	case "smtp":
		if s := notify.NewSMTPSender(notify.SMTPConfig{
			Host:      cfg.SMTPHost,
			Port:      cfg.SMTPPort,
			Username:  cfg.SMTPUsername,
			Password:  cfg.SMTPPassword,
			FromEmail: cfg.MailFromEmail,
			FromName:  cfg.MailFromName,
		}, logger); s != nil {
			sender = s
		}
	}
	if sender != nil {
		logger.Info("email provider configured", "provider", cfg.MailProvider)
		return sender, nil
	}
	if cfg.MailProvider != "stub" && cfg.IsProduction() {
		return nil, fmt.Errorf("bootstrap: MAIL_PROVIDER=%s is not fully configured", cfg.MailProvider)
	}
	logger.Warn("email provider not configured; using stub sender", "provider", cfg.MailProvider)
	return notify.NewStubEmailSender(logger), nil
}

// BuildTemplates overlays templates from S3 or a local file on the built-ins.
func BuildTemplates(ctx context.Context, cfg *appconfig.Config, awsCfg *aws.Config, logger *logging.Logger) (*notify.TemplateSet, error) {
	if logger == nil {
		logger = logging.Default()
	}
	switch {
	case cfg.TemplatesS3Bucket != "":
		if awsCfg == nil {
			return nil, fmt.Errorf("bootstrap: TEMPLATES_S3_BUCKET requires AWS configuration")
		}
		client := s3.NewFromConfig(*awsCfg, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		set, err := notify.LoadTemplatesS3(ctx, client, cfg.TemplatesS3Bucket, cfg.TemplatesS3Key)
		if err != nil {
			return nil, err
		}
		logger.Info("templates loaded from s3", "bucket", cfg.TemplatesS3Bucket, "key", cfg.TemplatesS3Key)
		return set, nil
	case cfg.TemplatesPath != "":
		set, err := notify.LoadTemplatesFile(cfg.TemplatesPath)
		if err != nil {
			return nil, err
		}
		logger.Info("templates loaded from file", "path", cfg.TemplatesPath)
		return set, nil
	default:
		return notify.NewTemplateSet(nil), nil
	}
}

// BuildDeadLetterSink publishes dead jobs to Kafka when KAFKA_BROKERS is
// set and logs them otherwise. The returned func releases the producer.
func BuildDeadLetterSink(cfg *appconfig.Config, logger *logging.Logger) (queue.DeadLetterSink, func()) {
	if logger == nil {
		logger = logging.Default()
	}
	if len(cfg.KafkaBrokers) == 0 {
		return queue.NewLogDeadLetterSink(logger), func() {}
	}
	producer, err := queue.NewKafkaProducer(cfg.KafkaBrokers)
	if err != nil {
		logger.Warn("kafka unavailable; dead letters will only be logged", "error", err)
		return queue.NewLogDeadLetterSink(logger), func() {}
	}
	sink := queue.NewKafkaDeadLetterSink(producer, cfg.DeadLetterTopic)
	logger.Info("dead letters published to kafka", "topic", cfg.DeadLetterTopic)
	return sink, func() {
		if err := sink.Close(); err != nil {
			logger.Warn("failed to close kafka producer", "error", err)
		}
	}
}

// WorkerDeps is everything BuildWorkerPool needs besides configuration.
type WorkerDeps struct {
	Broker      queue.Broker
	Sender      notify.EmailSender
	Templates   *notify.TemplateSet
	DeadLetters queue.DeadLetterSink
	Metrics     *metrics.PipelineMetrics
}

// BuildWorkerPool applies the worker settings from cfg.
func BuildWorkerPool(cfg *appconfig.Config, deps WorkerDeps, logger *logging.Logger) *notificationworker.Pool {
	return notificationworker.NewPool(deps.Broker, deps.Sender, logger,
		notificationworker.WithWorkerCount(cfg.WorkerCount),
		notificationworker.WithMaxAttempts(cfg.MaxAttempts),
		notificationworker.WithBackoff(queue.Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay}),
		notificationworker.WithSendTimeout(cfg.SendTimeout),
		notificationworker.WithSendRate(cfg.MailSendRate, 1),
		notificationworker.WithTemplates(deps.Templates),
		notificationworker.WithDeadLetterSink(deps.DeadLetters),
		notificationworker.WithMetrics(deps.Metrics),
	)
}
