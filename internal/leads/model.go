package leads

import (
	"strings"
	"time"
)

// FormType identifies which website form produced a lead.
type FormType string

const (
	FormContact  FormType = "contact"
	FormCallback FormType = "callback"
	FormAudit    FormType = "audit"
)

// Valid reports whether f is one of the known forms.
func (f FormType) Valid() bool {
	switch f {
	case FormContact, FormCallback, FormAudit:
		return true
	}
	return false
}

// Lead represents a lead submission from a web form
type Lead struct {
	ID            string    `json:"id"`
	FormType      FormType  `json:"formType"`
	Name          string    `json:"name"`
	Email         string    `json:"email,omitempty"`
	Phone         string    `json:"phone,omitempty"`
	Message       string    `json:"message,omitempty"`
	BusinessType  string    `json:"businessType,omitempty"`
	Language      string    `json:"language"`
	Website       string    `json:"website,omitempty"`
	PreferredTime string    `json:"preferredTime,omitempty"`
	IPAddress     string    `json:"ipAddress,omitempty"`
	UserAgent     string    `json:"userAgent,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// CreateInput is everything a store needs to record a lead. The id and
// timestamp are assigned by the store.
type CreateInput struct {
	FormType      FormType
	Name          string
	Email         string
	Phone         string
	Message       string
	BusinessType  string
	Language      string
	Website       string
	PreferredTime string
	IPAddress     string
	UserAgent     string
}

func (in *CreateInput) lead(id string, createdAt time.Time) *Lead {
	return &Lead{
		ID:            id,
		FormType:      in.FormType,
		Name:          in.Name,
		Email:         in.Email,
		Phone:         in.Phone,
		Message:       in.Message,
		BusinessType:  in.BusinessType,
		Language:      in.Language,
		Website:       in.Website,
		PreferredTime: in.PreferredTime,
		IPAddress:     in.IPAddress,
		UserAgent:     in.UserAgent,
		CreatedAt:     createdAt,
	}
}

func (in *CreateInput) check() error {
	if in == nil {
		return ErrNilInput
	}
	if !in.FormType.Valid() {
		return ErrUnknownFormType
	}
	return nil
}

// Submission is the JSON body posted by the website forms.
type Submission struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
	Message       string `json:"message"`
	BusinessType  string `json:"businessType"`
	Language      string `json:"language"`
	Website       string `json:"website"`
	PreferredTime string `json:"preferredTime"`
}

// Fields flattens the submission for rule-set validation. Language is
// case-folded first so "EN" passes the same rule as "en".
func (s Submission) Fields() map[string]string {
	return map[string]string{
		"name":          s.Name,
		"email":         s.Email,
		"phone":         s.Phone,
		"message":       s.Message,
		"businessType":  s.BusinessType,
		"language":      strings.ToLower(s.Language),
		"website":       s.Website,
		"preferredTime": s.PreferredTime,
	}
}

// ToInput converts a validated submission into store input, stamping
// provenance and the default language when none was given.
func (s Submission) ToInput(form FormType, ip, userAgent, defaultLanguage string) *CreateInput {
	lang := strings.ToLower(strings.TrimSpace(s.Language))
	if lang == "" {
		lang = defaultLanguage
	}
	return &CreateInput{
		FormType:      form,
		Name:          strings.TrimSpace(s.Name),
		Email:         strings.TrimSpace(s.Email),
		Phone:         strings.TrimSpace(s.Phone),
		Message:       strings.TrimSpace(s.Message),
		BusinessType:  strings.TrimSpace(s.BusinessType),
		Language:      lang,
		Website:       strings.TrimSpace(s.Website),
		PreferredTime: strings.TrimSpace(s.PreferredTime),
		IPAddress:     ip,
		UserAgent:     userAgent,
	}
}

// ListFilter narrows analytics listings.
type ListFilter struct {
	FormType FormType
	Since    time.Time
	Limit    int
	Offset   int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Summary aggregates lead counts since a cut-off.
type Summary struct {
	Since          time.Time      `json:"since"`
	Total          int            `json:"total"`
	ByForm         map[string]int `json:"byForm"`
	ByBusinessType map[string]int `json:"byBusinessType"`
}

func newSummary(since time.Time) *Summary {
	return &Summary{
		Since:          since,
		ByForm:         map[string]int{},
		ByBusinessType: map[string]int{},
	}
}
