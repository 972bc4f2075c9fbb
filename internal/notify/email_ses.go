package notify

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/wolfman30/agency-leads/pkg/logging"
)

type sesAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES only accepts tag names and values made of these characters.
var sesTagUnsafe = regexp.MustCompile(`[^A-Za-z0-9_\-.@]`)

// SESSender delivers through the SES v2 API. When a configuration set is
// named, message tags flow into its event destinations.
type SESSender struct {
	client           sesAPI
	from             string
	configurationSet string
	logger           *logging.Logger
}

type SESConfig struct {
	FromEmail        string
	FromName         string
	ConfigurationSet string
}

// NewSESSender returns nil when client is nil.
func NewSESSender(client sesAPI, cfg SESConfig, logger *logging.Logger) *SESSender {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	return &SESSender{
		client:           client,
		from:             formatAddress(cfg.FromName, cfg.FromEmail),
		configurationSet: cfg.ConfigurationSet,
		logger:           logger,
	}
}

func (s *SESSender) Send(ctx context.Context, msg EmailMessage) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("notify: SES client not configured")
	}

	body := &types.Body{}
	if msg.Body != "" {
		body.Text = utf8Content(msg.Body)
	}
	if msg.HTML != "" {
		body.Html = utf8Content(msg.HTML)
	}
	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.from),
		Destination:      &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.To)}},
		Content: &types.EmailContent{
			Simple: &types.Message{Subject: utf8Content(msg.Subject), Body: body},
		},
		EmailTags: sesTags(msg.Tags),
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	output, err := s.client.SendEmail(ctx, input)
	if err != nil {
		if isPermanentSES(err) {
			s.logger.Error("SES refused message", "error", err, "to", msg.To)
			return Permanent(fmt.Errorf("SES refused message: %w", err))
		}
		return fmt.Errorf("notify: SES send failed: %w", err)
	}

	s.logger.Debug("email sent via SES", "to", msg.To, "subject", msg.Subject, "message_id", aws.ToString(output.MessageId))
	return nil
}

// isPermanentSES reports failures that a retry cannot fix: the message or
// sender identity is unacceptable, or the account cannot send at all.
func isPermanentSES(err error) bool {
	var (
		rejected   *types.MessageRejected
		mailFrom   *types.MailFromDomainNotVerifiedException
		suspended  *types.AccountSuspendedException
		notFound   *types.NotFoundException
		badRequest *types.BadRequestException
		sendPaused *types.SendingPausedException
	)
	return errors.As(err, &rejected) ||
		errors.As(err, &mailFrom) ||
		errors.As(err, &suspended) ||
		errors.As(err, &notFound) ||
		errors.As(err, &badRequest) ||
		errors.As(err, &sendPaused)
}

func sesTags(tags map[string]string) []types.MessageTag {
	if len(tags) == 0 {
		return nil
	}
	out := make([]types.MessageTag, 0, len(tags))
	for _, k := range sortedKeys(tags) {
		v := sesTagUnsafe.ReplaceAllString(tags[k], "_")
		if v == "" {
			continue
		}
		out = append(out, types.MessageTag{
			Name:  aws.String(sesTagUnsafe.ReplaceAllString(k, "_")),
			Value: aws.String(v),
		})
	}
	return out
}

func utf8Content(data string) *types.Content {
	return &types.Content{
		Data:    aws.String(data),
		Charset: aws.String("UTF-8"),
	}
}

var _ EmailSender = (*SESSender)(nil)
