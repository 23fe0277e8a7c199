package factory_test

import (
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/config"
	emailprovider "github.com/example/emaileria/internal/providers/email"
	"github.com/example/emaileria/internal/providers/factory"
)

func TestEmailSelectsBackend(t *testing.T) {
	logger := zerolog.New(io.Discard)

	cases := []struct {
		name string
		cfg  config.ProviderConfig
		want any
	}{
		{"mock", config.ProviderConfig{Name: "MOCK"}, &emailprovider.MockTransport{}},
		{"smtp", config.ProviderConfig{Name: "smtp", SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 587}}, &emailprovider.SMTPTransport{}},
		{"default smtp", config.ProviderConfig{SMTP: config.SMTPConfig{Host: "smtp.example.com", Port: 465, TLSMode: "ssl"}}, &emailprovider.SMTPTransport{}},
		{"resend", config.ProviderConfig{Name: "resend", Resend: config.ResendConfig{APIKey: "re_test"}}, &emailprovider.ResendTransport{}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			transport, err := factory.Email(tc.cfg, logger)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			defer transport.Close()

			switch tc.want.(type) {
			case *emailprovider.MockTransport:
				if _, ok := transport.(*emailprovider.MockTransport); !ok {
					t.Fatalf("expected mock transport, got %T", transport)
				}
			case *emailprovider.SMTPTransport:
				if _, ok := transport.(*emailprovider.SMTPTransport); !ok {
					t.Fatalf("expected smtp transport, got %T", transport)
				}
			case *emailprovider.ResendTransport:
				if _, ok := transport.(*emailprovider.ResendTransport); !ok {
					t.Fatalf("expected resend transport, got %T", transport)
				}
			}
		})
	}
}

func TestEmailRejectsInvalidConfig(t *testing.T) {
	logger := zerolog.New(io.Discard)

	for name, cfg := range map[string]config.ProviderConfig{
		"unknown":       {Name: "pigeon"},
		"smtp no host":  {Name: "smtp"},
		"resend no key": {Name: "resend"},
	} {
		if _, err := factory.Email(cfg, logger); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
