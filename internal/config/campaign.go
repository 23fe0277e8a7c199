package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Campaign is the optional YAML file describing a run. Command line flags
// override any value set here.
type Campaign struct {
	Sender              string   `yaml:"sender"`
	Contacts            string   `yaml:"contacts"`
	Sheet               string   `yaml:"sheet"`
	Subject             string   `yaml:"subject"`
	Body                string   `yaml:"body"`
	SubjectTemplateFile string   `yaml:"subject_template_file"`
	BodyTemplateFile    string   `yaml:"body_template_file"`
	CC                  []string `yaml:"cc"`
	BCC                 []string `yaml:"bcc"`
	ReplyTo             string   `yaml:"reply_to"`
	RateLimit           *float64 `yaml:"rate_limit"`
	IntervalSeconds     *float64 `yaml:"interval_seconds"`
	AllowMissingFields  bool     `yaml:"allow_missing_fields"`
	DryRun              bool     `yaml:"dry_run"`
	Offset              int      `yaml:"offset"`
	Limit               int      `yaml:"limit"`
}

// LoadCampaign parses a campaign file.
func LoadCampaign(path string) (*Campaign, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read campaign: %w", err)
	}
	var c Campaign
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, fmt.Errorf("config: parse campaign %s: %w", path, err)
	}
	return &c, nil
}

// RunParams are the resolved parameters of a single send run.
type RunParams struct {
	Sender             string   `validate:"required,email"`
	ContactsPath       string   `validate:"required"`
	Sheet              string
	SubjectTemplate    string   `validate:"required"`
	BodyTemplate       string   `validate:"required"`
	Markdown           bool
	CC                 []string `validate:"dive,email"`
	BCC                []string `validate:"dive,email"`
	ReplyTo            string   `validate:"omitempty,email"`
	RateLimitPerMinute float64  `validate:"gte=0"`
	IntervalSeconds    float64  `validate:"gte=0"`
	AllowMissingFields bool
	DryRun             bool
	Offset             int `validate:"gte=0"`
	Limit              int `validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every invalid parameter in one error.
func (p *RunParams) Validate() error {
	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: validate run parameters: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describeFieldError(fe))
	}
	return fmt.Errorf("invalid run parameters: %s", strings.Join(msgs, "; "))
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "email":
		return fmt.Sprintf("%s has an invalid address %q", fe.Field(), fe.Value())
	case "gte":
		return fmt.Sprintf("%s must be >= %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
