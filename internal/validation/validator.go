// Package validation evaluates form submissions against named, declarative
// rule sets and reports every violated field at once.
package validation

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrUnknownRuleSet is returned when no rule set is registered under a name.
var ErrUnknownRuleSet = errors.New("validation: unknown rule set")

var (
	phonePattern    = regexp.MustCompile(`^\+?[0-9][0-9\s\-().]{5,18}[0-9]$`)
	languagePattern = regexp.MustCompile(`^[a-z]{2}$`)
)

// FieldRule binds a submission field to a validator tag string such as
// "required,min=10,max=2000".
type FieldRule struct {
	Field string
	Label string
	Tag   string
}

// RuleSet is the named list of rules for one form variant.
type RuleSet struct {
	Name  string
	Rules []FieldRule
}

// Violation is one failed field.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Result maps field names to violation messages. An empty Result is valid.
type Result map[string]string

// Valid reports whether no field failed.
func (r Result) Valid() bool {
	return len(r) == 0
}

// Violations returns the result as a list ordered by field name.
func (r Result) Violations() []Violation {
	out := make([]Violation, 0, len(r))
	for field, msg := range r {
		out = append(out, Violation{Field: field, Message: msg})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

// Fields returns the violated field names in order.
func (r Result) Fields() []string {
	out := make([]string, 0, len(r))
	for field := range r {
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}

// Validator evaluates submissions against registered rule sets. It is safe
// for concurrent use once constructed.
type Validator struct {
	validate *validator.Validate
	sets     map[string]RuleSet
}

// New builds a Validator with the given rule sets, or the default form rule
// sets when none are passed.
func New(sets ...RuleSet) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("lang", func(fl validator.FieldLevel) bool {
		return languagePattern.MatchString(fl.Field().String())
	})

	if len(sets) == 0 {
		sets = DefaultRuleSets()
	}
	byName := make(map[string]RuleSet, len(sets))
	for _, set := range sets {
		byName[set.Name] = set
	}
	return &Validator{validate: v, sets: byName}
}

// Validate runs every rule of the named set against fields. Fields are
// trimmed before evaluation and each one is checked independently.
func (v *Validator) Validate(ruleSet string, fields map[string]string) (Result, error) {
	set, ok := v.sets[ruleSet]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRuleSet, ruleSet)
	}

	result := Result{}
	for _, rule := range set.Rules {
		value := strings.TrimSpace(fields[rule.Field])
		err := v.validate.Var(value, rule.Tag)
		if err == nil {
			continue
		}
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
			return nil, fmt.Errorf("validation: rule %q on %s: %w", rule.Tag, rule.Field, err)
		}
		result[rule.Field] = message(rule, fieldErrs[0])
	}
	return result, nil
}

func message(rule FieldRule, fe validator.FieldError) string {
	label := rule.Label
	if label == "" {
		label = rule.Field
	}
	switch fe.Tag() {
	case "required":
		return label + " is required"
	case "email":
		return label + " must be a valid email address"
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", label, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", label, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", label, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "phone":
		return label + " must be a valid phone number"
	case "lang":
		return label + " must be a two-letter language code"
	case "url":
		return label + " must be a valid URL"
	default:
		return label + " is invalid"
	}
}
