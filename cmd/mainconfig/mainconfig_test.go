package mainconfig

import (
	"context"
	"testing"

	appconfig "github.com/wolfman30/agency-leads/internal/config"
)

func TestNeedsAWS(t *testing.T) {
	tests := []struct {
		name string
		cfg  appconfig.Config
		want bool
	}{
		{"all local", appconfig.Config{LeadStore: "memory", QueueBackend: "redis", MailProvider: "smtp"}, false},
		{"dynamodb", appconfig.Config{LeadStore: "dynamodb"}, true},
		{"sqs", appconfig.Config{QueueBackend: "sqs"}, true},
		{"ses", appconfig.Config{MailProvider: "ses"}, true},
		{"s3 templates", appconfig.Config{TemplatesS3Bucket: "tmpl"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsAWS(&tt.cfg); got != tt.want {
				t.Fatalf("NeedsAWS = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLoadOptionalAWSConfigSkipsLocalSetups(t *testing.T) {
	awsCfg, err := LoadOptionalAWSConfig(context.Background(), &appconfig.Config{LeadStore: "memory", QueueBackend: "memory"})
	if err != nil || awsCfg != nil {
		t.Fatalf("expected nil config, got %v, %v", awsCfg, err)
	}
}

func TestLoadAWSConfigUsesStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "us-west-2",
		AWSAccessKeyID:      "test",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if awsCfg.Region != "us-west-2" {
		t.Fatalf("unexpected region %q", awsCfg.Region)
	}
	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	if err != nil {
		t.Fatalf("credentials: %v", err)
	}
	if creds.AccessKeyID != "test" {
		t.Fatalf("expected static credentials, got %q", creds.AccessKeyID)
	}
}
