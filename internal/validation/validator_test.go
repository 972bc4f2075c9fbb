package validation

import (
	"errors"
	"reflect"
	"strings"
	"testing"
)

func TestContactRuleSetValidSubmission(t *testing.T) {
	v := New()
	result, err := v.Validate(RuleSetContact, map[string]string{
		"name":    "Test User",
		"email":   "test@example.com",
		"message": "Test message content",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid() {
		t.Fatalf("expected valid submission, got %v", result)
	}
}

func TestContactRuleSetCollectsEveryViolation(t *testing.T) {
	v := New()
	result, err := v.Validate(RuleSetContact, map[string]string{"name": "A"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got, want := result.Fields(), []string{"email", "message"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected violations %v, got %v", want, got)
	}
	if result["email"] != "email is required" {
		t.Fatalf("unexpected email message %q", result["email"])
	}
}

func TestContactRuleSetFieldRules(t *testing.T) {
	base := func() map[string]string {
		return map[string]string{
			"name":    "Jane Client",
			"email":   "jane@client.example",
			"message": "We need help with our search rankings.",
		}
	}
	tests := []struct {
		name      string
		field     string
		value     string
		wantField string
		wantMsg   string
	}{
		{"bad email", "email", "not-an-email", "email", "email must be a valid email address"},
		{"short message", "message", "too short", "message", "message must be at least 10 characters"},
		{"message at minimum", "message", "exactly 10", "", ""},
		{"message at maximum", "message", strings.Repeat("a", MessageMaxLength), "", ""},
		{"message over maximum", "message", strings.Repeat("a", MessageMaxLength+1), "message", "message must be at most 2000 characters"},
		{"whitespace name", "name", "   ", "name", "name is required"},
		{"bad phone", "phone", "call me maybe", "phone", "phone must be a valid phone number"},
		{"good phone", "phone", "+1 (555) 123-4567", "", ""},
		{"unknown business type", "businessType", "plumbing", "businessType", "business type must be one of: " + strings.Join(BusinessTypes, ", ")},
		{"known business type", "businessType", "seo", "", ""},
		{"bad language", "language", "eng", "language", "language must be a two-letter language code"},
		{"good language", "language", "de", "", ""},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := base()
			fields[tt.field] = tt.value
			result, err := v.Validate(RuleSetContact, fields)
			if err != nil {
				t.Fatalf("validate: %v", err)
			}
			if tt.wantField == "" {
				if !result.Valid() {
					t.Fatalf("expected valid, got %v", result)
				}
				return
			}
			if len(result) != 1 || result[tt.wantField] != tt.wantMsg {
				t.Fatalf("expected %s=%q, got %v", tt.wantField, tt.wantMsg, result)
			}
		})
	}
}

func TestCallbackRuleSetRequiresPhone(t *testing.T) {
	v := New()
	result, err := v.Validate(RuleSetCallback, map[string]string{"name": "Sam"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := result.Fields(); !reflect.DeepEqual(got, []string{"phone"}) {
		t.Fatalf("expected only phone violation, got %v", got)
	}
}

func TestAuditRuleSet(t *testing.T) {
	v := New()
	result, err := v.Validate(RuleSetAudit, map[string]string{
		"name":         "Ops Lead",
		"email":        "ops@shop.example",
		"website":      "shop.example",
		"businessType": "",
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if got := result.Fields(); !reflect.DeepEqual(got, []string{"businessType", "website"}) {
		t.Fatalf("unexpected violations %v", got)
	}

	result, _ = v.Validate(RuleSetAudit, map[string]string{
		"name":         "Ops Lead",
		"email":        "ops@shop.example",
		"website":      "https://shop.example",
		"businessType": "ppc",
	})
	if !result.Valid() {
		t.Fatalf("expected valid audit request, got %v", result)
	}
}

func TestValidateIsIdempotent(t *testing.T) {
	v := New()
	input := map[string]string{"name": "", "email": "nope", "message": "short"}

	first, err := v.Validate(RuleSetContact, input)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	second, err := v.Validate(RuleSetContact, input)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results, got %v and %v", first, second)
	}
	if !reflect.DeepEqual(first.Violations(), second.Violations()) {
		t.Fatal("expected identical violation lists")
	}
}

func TestViolationsAreSortedByField(t *testing.T) {
	r := Result{"message": "m", "email": "e", "name": "n"}
	got := r.Violations()
	if got[0].Field != "email" || got[1].Field != "message" || got[2].Field != "name" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestUnknownRuleSet(t *testing.T) {
	_, err := New().Validate("newsletter", nil)
	if !errors.Is(err, ErrUnknownRuleSet) {
		t.Fatalf("expected ErrUnknownRuleSet, got %v", err)
	}
}

func TestCustomRuleSet(t *testing.T) {
	v := New(RuleSet{Name: "newsletter", Rules: []FieldRule{{Field: "email", Tag: "required,email"}}})
	result, err := v.Validate("newsletter", map[string]string{"email": "x"})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result["email"] != "email must be a valid email address" {
		t.Fatalf("unexpected result %v", result)
	}
	if _, err := v.Validate(RuleSetContact, nil); !errors.Is(err, ErrUnknownRuleSet) {
		t.Fatal("custom sets should replace the defaults")
	}
}
