package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

func TestRenderSubstitutesFields(t *testing.T) {
	tests := []struct {
		name string
		tmpl string
		data map[string]string
		want string
	}{
		{"missing field renders empty", "Hello {{name}}", map[string]string{}, "Hello "},
		{"nil data", "Hello {{name}}", nil, "Hello "},
		{"present field", "Hello {{name}}", map[string]string{"name": "Ada"}, "Hello Ada"},
		{"spaces inside braces", "Hi {{ name }}!", map[string]string{"name": "Bo"}, "Hi Bo!"},
		{"repeated field", "{{a}}-{{a}}", map[string]string{"a": "x"}, "x-x"},
		{"no placeholders", "plain", map[string]string{"a": "x"}, "plain"},
		{"value is not re-expanded", "{{a}}", map[string]string{"a": "{{b}}", "b": "no"}, "{{b}}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Render(tt.tmpl, tt.data); got != tt.want {
				t.Fatalf("Render(%q) = %q, want %q", tt.tmpl, got, tt.want)
			}
		})
	}
}

func TestTemplateSetFallsBackToDefaultPair(t *testing.T) {
	set := NewTemplateSet(nil)
	got := set.Render("does-not-exist", map[string]string{"name": "Ada"})
	want := FallbackTemplate()
	if got.Subject != want.Subject {
		t.Fatalf("expected fallback subject, got %q", got.Subject)
	}
	if !strings.HasPrefix(got.Body, "Hello Ada,") {
		t.Fatalf("expected rendered fallback body, got %q", got.Body)
	}
}

func TestTemplateSetBuiltIns(t *testing.T) {
	set := NewTemplateSet(nil)
	for _, key := range []string{TemplateAdminNotice, TemplateClientAutoresponse, TemplateCallbackConfirmation, TemplateAuditDelivery} {
		if _, ok := set.Get(key); !ok {
			t.Fatalf("missing built-in template %s", key)
		}
	}
	r := set.Render(TemplateAdminNotice, map[string]string{"formType": "contact", "name": "Test User"})
	if r.Subject != "New contact lead: Test User" {
		t.Fatalf("unexpected subject %q", r.Subject)
	}
}

func TestTemplateSetLocalizedLookup(t *testing.T) {
	set := NewTemplateSet(map[string]Template{
		TemplateClientAutoresponse + ".de": {Subject: "Danke, {{name}}", Body: "Hallo {{name}}"},
	})
	de := set.Render(TemplateClientAutoresponse, map[string]string{"name": "Jan", "language": "de"})
	if de.Subject != "Danke, Jan" {
		t.Fatalf("expected german template, got %q", de.Subject)
	}
	fr := set.Render(TemplateClientAutoresponse, map[string]string{"name": "Luc", "language": "fr"})
	if fr.Subject != "Thanks for reaching out, Luc" {
		t.Fatalf("expected default-language template, got %q", fr.Subject)
	}
}

const templateYAML = `
templates:
  admin-notice:
    subject: "Lead {{name}}"
    body: |
      Custom body for {{email}}
  newsletter-welcome:
    subject: Welcome
    body: Glad to have you
`

func TestLoadTemplatesFileOverlaysBuiltIns(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.yaml")
	if err := os.WriteFile(path, []byte(templateYAML), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	set, err := LoadTemplatesFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	admin, _ := set.Get(TemplateAdminNotice)
	if admin.Subject != "Lead {{name}}" {
		t.Fatalf("expected override, got %q", admin.Subject)
	}
	if _, ok := set.Get(TemplateAuditDelivery); !ok {
		t.Fatal("built-ins should remain available")
	}
	if _, ok := set.Get("newsletter-welcome"); !ok {
		t.Fatal("expected additional template from file")
	}
}

func TestParseTemplatesRejectsIncompleteEntries(t *testing.T) {
	_, err := ParseTemplates([]byte("templates:\n  broken:\n    subject: only a subject\n"))
	if err == nil || !strings.Contains(err.Error(), "broken") {
		t.Fatalf("expected error naming the broken template, got %v", err)
	}
	if _, err := ParseTemplates([]byte("templates: [")); err == nil {
		t.Fatal("expected yaml error")
	}
}

type fakeS3 struct {
	body  string
	err   error
	input *s3.GetObjectInput
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(f.body))}, nil
}

func TestLoadTemplatesS3(t *testing.T) {
	client := &fakeS3{body: templateYAML}
	set, err := LoadTemplatesS3(context.Background(), client, "agency-config", "templates.yaml")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if aws.ToString(client.input.Bucket) != "agency-config" || aws.ToString(client.input.Key) != "templates.yaml" {
		t.Fatalf("unexpected object request %+v", client.input)
	}
	if _, ok := set.Get("newsletter-welcome"); !ok {
		t.Fatal("expected template from s3 document")
	}

	boom := errors.New("access denied")
	if _, err := LoadTemplatesS3(context.Background(), &fakeS3{err: boom}, "b", "k"); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped s3 error, got %v", err)
	}
}
