package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"gopkg.in/yaml.v3"
)

// Template keys used by the lead pipeline.
const (
	TemplateAdminNotice          = "admin-notice"
	TemplateClientAutoresponse   = "client-autoresponse"
	TemplateCallbackConfirmation = "callback-confirmation"
	TemplateAuditDelivery        = "audit-delivery"
)

var placeholderPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// Template is a subject/body pair with {{field}} placeholders.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Rendered is a template with every placeholder substituted.
type Rendered struct {
	Subject string
	Body    string
}

// Render replaces each {{field}} in tmpl with data[field]. Fields missing
// from data render as the empty string.
func Render(tmpl string, data map[string]string) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		key := placeholderPattern.FindStringSubmatch(m)[1]
		return data[key]
	})
}

// TemplateSet is an immutable collection of named templates. Lookups for
// unknown keys use the fallback pair.
type TemplateSet struct {
	templates map[string]Template
	fallback  Template
}

// NewTemplateSet overlays overrides on top of the built-in templates.
func NewTemplateSet(overrides map[string]Template) *TemplateSet {
	merged := DefaultTemplates()
	for key, tmpl := range overrides {
		merged[key] = tmpl
	}
	return &TemplateSet{templates: merged, fallback: FallbackTemplate()}
}

// Get returns the named template.
func (s *TemplateSet) Get(key string) (Template, bool) {
	tmpl, ok := s.templates[key]
	return tmpl, ok
}

// Lookup returns the localized variant "key.lang" when present, then key,
// then the fallback pair.
func (s *TemplateSet) Lookup(key, lang string) Template {
	if lang != "" {
		if tmpl, ok := s.templates[key+"."+lang]; ok {
			return tmpl
		}
	}
	if tmpl, ok := s.templates[key]; ok {
		return tmpl
	}
	return s.fallback
}

// Render looks up key in data's language and substitutes data into it.
func (s *TemplateSet) Render(key string, data map[string]string) Rendered {
	tmpl := s.Lookup(key, data["language"])
	return Rendered{
		Subject: Render(tmpl.Subject, data),
		Body:    Render(tmpl.Body, data),
	}
}

// Keys lists the configured template names.
func (s *TemplateSet) Keys() []string {
	keys := make([]string, 0, len(s.templates))
	for k := range s.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type templateFile struct {
	Templates map[string]Template `yaml:"templates"`
}

// ParseTemplates decodes a YAML template document of the form
//
//	templates:
//	  admin-notice:
//	    subject: "New lead: {{name}}"
//	    body: |
//	      ...
func ParseTemplates(data []byte) (map[string]Template, error) {
	var doc templateFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("notify: parse templates: %w", err)
	}
	var problems []string
	for key, tmpl := range doc.Templates {
		if strings.TrimSpace(tmpl.Subject) == "" || strings.TrimSpace(tmpl.Body) == "" {
			problems = append(problems, key)
		}
	}
	if len(problems) > 0 {
		sort.Strings(problems)
		return nil, fmt.Errorf("notify: templates missing subject or body: %s", strings.Join(problems, ", "))
	}
	return doc.Templates, nil
}

// LoadTemplatesFile reads a YAML template document from disk.
func LoadTemplatesFile(path string) (*TemplateSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("notify: read templates: %w", err)
	}
	overrides, err := ParseTemplates(data)
	if err != nil {
		return nil, err
	}
	return NewTemplateSet(overrides), nil
}

// S3ObjectGetter is the subset of the S3 client used to fetch templates.
type S3ObjectGetter interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// LoadTemplatesS3 reads a YAML template document from an S3 object.
func LoadTemplatesS3(ctx context.Context, client S3ObjectGetter, bucket, key string) (*TemplateSet, error) {
	if client == nil {
		return nil, fmt.Errorf("notify: s3 client required")
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("notify: get s3://%s/%s: %w", bucket, key, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("notify: read s3://%s/%s: %w", bucket, key, err)
	}
	overrides, err := ParseTemplates(data)
	if err != nil {
		return nil, err
	}
	return NewTemplateSet(overrides), nil
}

// FallbackTemplate is used when a job names a template nobody configured.
func FallbackTemplate() Template {
	return Template{
		Subject: "Update on your request",
		Body:    "Hello {{name}},\n\nThis is an update regarding your recent request.\n\n{{signature}}",
	}
}

// DefaultTemplates returns the built-in templates for every pipeline key.
func DefaultTemplates() map[string]Template {
	return map[string]Template{
		TemplateAdminNotice: {
			Subject: "New {{formType}} lead: {{name}}",
			Body: "A new {{formType}} submission arrived.\n\n" +
				"Name: {{name}}\nEmail: {{email}}\nPhone: {{phone}}\n" +
				"Business type: {{businessType}}\nWebsite: {{website}}\n" +
				"Preferred time: {{preferredTime}}\nLanguage: {{language}}\n\n" +
				"Message:\n{{message}}\n\nLead ID: {{leadId}}\nReceived: {{createdAt}}",
		},
		TemplateClientAutoresponse: {
			Subject: "Thanks for reaching out, {{name}}",
			Body: "Hi {{name}},\n\nThanks for contacting us. We received your message " +
				"and someone from our team will reply within one business day.\n\n" +
				"Your message:\n{{message}}\n\n{{signature}}",
		},
		TemplateCallbackConfirmation: {
			Subject: "We'll call you back, {{name}}",
			Body: "Hi {{name}},\n\nWe received your callback request and will ring you " +
				"at {{phone}} ({{preferredTime}}).\n\n{{signature}}",
		},
		TemplateAuditDelivery: {
			Subject: "Your website audit for {{website}}",
			Body: "Hi {{name}},\n\nThanks for requesting an audit of {{website}}. " +
				"Our specialists are reviewing it now and will send your report shortly.\n\n{{signature}}",
		},
	}
}
