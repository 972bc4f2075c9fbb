package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	appconfig "github.com/wolfman30/agency-leads/internal/config"
	"github.com/wolfman30/agency-leads/internal/leads"
	"github.com/wolfman30/agency-leads/internal/notify"
	"github.com/wolfman30/agency-leads/internal/queue"
	"github.com/wolfman30/agency-leads/internal/ratelimit"
)

func baseConfig() *appconfig.Config {
	return &appconfig.Config{
		Env:                    "development",
		LeadStore:              "memory",
		RateLimitBackend:       "memory",
		RateLimitMax:           3,
		RateLimitWindow:        time.Minute,
		QueueBackend:           "memory",
		QueuePrefix:            "notify",
		QueueVisibilityTimeout: time.Minute,
		CompletedRetention:     time.Hour,
		WorkerCount:            1,
		MaxAttempts:            3,
		SendTimeout:            time.Second,
		MailProvider:           "stub",
		MailFromName:           "Agency Team",
	}
}

func TestBuildRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig()
	cfg.RedisAddr = mr.Addr()
	if client := BuildRedisClient(context.Background(), cfg, nil, true); client == nil {
		t.Fatal("expected client for reachable redis")
	}

	cfg.RedisAddr = ""
	if client := BuildRedisClient(context.Background(), cfg, nil, true); client != nil {
		t.Fatal("expected nil client when redis is disabled")
	}

	addr := mr.Addr()
	mr.Close()
	cfg.RedisAddr = addr
	if client := BuildRedisClient(context.Background(), cfg, nil, true); client != nil {
		t.Fatal("expected nil client when ping fails")
	}
}

func TestBuildRateLimiter(t *testing.T) {
	cfg := baseConfig()
	if _, ok := BuildRateLimiter(cfg, nil, nil).(*ratelimit.MemoryLimiter); !ok {
		t.Fatal("expected memory limiter by default")
	}

	cfg.RateLimitBackend = "redis"
	if _, ok := BuildRateLimiter(cfg, nil, nil).(*ratelimit.MemoryLimiter); !ok {
		t.Fatal("expected memory fallback without redis")
	}

	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	client := BuildRedisClient(context.Background(), cfg, nil, false)
	if _, ok := BuildRateLimiter(cfg, client, nil).(*ratelimit.RedisLimiter); !ok {
		t.Fatal("expected redis limiter")
	}
}

func TestBuildBroker(t *testing.T) {
	cfg := baseConfig()
	broker, err := BuildBroker(cfg, nil, nil, nil)
	if err != nil {
		t.Fatalf("memory broker: %v", err)
	}
	if _, ok := broker.(*queue.MemoryBroker); !ok {
		t.Fatalf("expected memory broker, got %T", broker)
	}

	cfg.QueueBackend = "redis"
	if _, err := BuildBroker(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error for redis backend without client")
	}
	mr := miniredis.RunT(t)
	cfg.RedisAddr = mr.Addr()
	broker, err = BuildBroker(cfg, BuildRedisClient(context.Background(), cfg, nil, false), nil, nil)
	if err != nil {
		t.Fatalf("redis broker: %v", err)
	}
	if _, ok := broker.(queue.Inspector); !ok {
		t.Fatal("redis broker should support inspection")
	}

	cfg.QueueBackend = "sqs"
	if _, err := BuildBroker(cfg, nil, nil, nil); err == nil {
		t.Fatal("expected error for sqs backend without aws config")
	}
}

func TestBuildEmailSender(t *testing.T) {
	cfg := baseConfig()
	sender, err := BuildEmailSender(cfg, nil, nil)
	if err != nil {
		t.Fatalf("stub: %v", err)
	}
	if _, ok := sender.(*notify.StubEmailSender); !ok {
		t.Fatalf("expected stub sender, got %T", sender)
	}

	cfg.MailProvider = "sendgrid"
	sender, err = BuildEmailSender(cfg, nil, nil)
	if err != nil {
		t.Fatalf("sendgrid fallback in development: %v", err)
	}
	if _, ok := sender.(*notify.StubEmailSender); !ok {
		t.Fatal("unconfigured provider should fall back to stub in development")
	}

	cfg.Env = "production"
	if _, err := BuildEmailSender(cfg, nil, nil); err == nil {
		t.Fatal("unconfigured provider should fail in production")
	}

	cfg.SendGridAPIKey = "SG.test"
	cfg.MailFromEmail = "hello@agency.example"
	sender, err = BuildEmailSender(cfg, nil, nil)
	if err != nil {
		t.Fatalf("sendgrid: %v", err)
	}
	if _, ok := sender.(*notify.SendGridSender); !ok {
		t.Fatalf("expected sendgrid sender, got %T", sender)
	}

	cfg.MailProvider = "smtp"
	cfg.SMTPHost = "smtp.agency.example"
	sender, err = BuildEmailSender(cfg, nil, nil)
	if err != nil {
		t.Fatalf("smtp: %v", err)
	}
	if _, ok := sender.(*notify.SMTPSender); !ok {
		t.Fatalf("expected smtp sender, got %T", sender)
	}
}

func TestBuildTemplatesFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	content := "templates:\n  admin-notice:\n    subject: \"Lead {{name}}\"\n    body: \"{{message}}\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg := baseConfig()
	cfg.TemplatesPath = path

	set, err := BuildTemplates(context.Background(), cfg, nil, nil)
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	got := set.Render(notify.TemplateAdminNotice, map[string]string{"name": "Jane"})
	if got.Subject != "Lead Jane" {
		t.Fatalf("expected file template, got %q", got.Subject)
	}

	cfg.TemplatesPath = ""
	cfg.TemplatesS3Bucket = "bucket"
	if _, err := BuildTemplates(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for s3 templates without aws config")
	}
}

func TestBuildDeadLetterSinkDefaultsToLog(t *testing.T) {
	sink, closeFn := BuildDeadLetterSink(baseConfig(), nil)
	defer closeFn()
	if _, ok := sink.(*queue.LogDeadLetterSink); !ok {
		t.Fatalf("expected log sink, got %T", sink)
	}
}

func TestBuildLeadStoreMemory(t *testing.T) {
	store, err := BuildLeadStore(context.Background(), baseConfig(), nil, nil)
	if err != nil {
		t.Fatalf("lead store: %v", err)
	}
	defer store.Close()
	if _, ok := store.Repository.(*leads.InMemoryRepository); !ok {
		t.Fatalf("expected memory repository, got %T", store.Repository)
	}
	if store.Summaries == nil {
		t.Fatal("memory store should provide summaries")
	}

	cfg := baseConfig()
	cfg.LeadStore = "dynamodb"
	if _, err := BuildLeadStore(context.Background(), cfg, nil, nil); err == nil {
		t.Fatal("expected error for dynamodb without aws config")
	}
}

func TestBuildWorkerPool(t *testing.T) {
	cfg := baseConfig()
	pool := BuildWorkerPool(cfg, WorkerDeps{
		Broker: queue.NewMemoryBroker(),
		Sender: notify.NewStubEmailSender(nil),
	}, nil)
	if pool == nil {
		t.Fatal("expected pool")
	}
}
