package validation

import (
	"fmt"
	"strings"
)

// Rule set names, one per form variant.
const (
	RuleSetContact  = "contact"
	RuleSetCallback = "callback"
	RuleSetAudit    = "audit"
)

// Message length bounds (inclusive).
const (
	MessageMinLength = 10
	MessageMaxLength = 2000
)

// BusinessTypes enumerates the services a visitor can enquire about.
var BusinessTypes = []string{
	"seo",
	"ppc",
	"social-media",
	"web-design",
	"branding",
	"content-marketing",
	"email-marketing",
	"other",
}

var (
	businessTypeTag = "oneof=" + strings.Join(BusinessTypes, " ")
	contactMessage  = fmt.Sprintf("required,min=%d,max=%d", MessageMinLength, MessageMaxLength)
	optionalMessage = fmt.Sprintf("omitempty,max=%d", MessageMaxLength)
)

// DefaultRuleSets returns the rule sets for the contact, callback and audit forms.
func DefaultRuleSets() []RuleSet {
	return []RuleSet{
		{
			Name: RuleSetContact,
			Rules: []FieldRule{
				{Field: "name", Label: "name", Tag: "required,max=100"},
				{Field: "email", Label: "email", Tag: "required,email,max=254"},
				{Field: "phone", Label: "phone", Tag: "omitempty,phone"},
				{Field: "message", Label: "message", Tag: contactMessage},
				{Field: "businessType", Label: "business type", Tag: "omitempty," + businessTypeTag},
				{Field: "language", Label: "language", Tag: "omitempty,lang"},
			},
		},
		{
			Name: RuleSetCallback,
			Rules: []FieldRule{
				{Field: "name", Label: "name", Tag: "required,max=100"},
				{Field: "phone", Label: "phone", Tag: "required,phone"},
				{Field: "email", Label: "email", Tag: "omitempty,email,max=254"},
				{Field: "preferredTime", Label: "preferred time", Tag: "omitempty,max=100"},
				{Field: "message", Label: "message", Tag: optionalMessage},
				{Field: "language", Label: "language", Tag: "omitempty,lang"},
			},
		},
		{
			Name: RuleSetAudit,
			Rules: []FieldRule{
				{Field: "name", Label: "name", Tag: "required,max=100"},
				{Field: "email", Label: "email", Tag: "required,email,max=254"},
				{Field: "website", Label: "website", Tag: "required,url,max=2048"},
				{Field: "businessType", Label: "business type", Tag: "required," + businessTypeTag},
				{Field: "phone", Label: "phone", Tag: "omitempty,phone"},
				{Field: "message", Label: "message", Tag: optionalMessage},
				{Field: "language", Label: "language", Tag: "omitempty,lang"},
			},
		},
	}
}
