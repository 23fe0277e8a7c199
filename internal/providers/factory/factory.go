package factory

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/emaileria/internal/config"
	emailprovider "github.com/example/emaileria/internal/providers/email"
)

// Email constructs the configured email transport: SMTP, Resend or mock.
func Email(cfg config.ProviderConfig, logger zerolog.Logger) (emailprovider.Transport, error) {
	backend := normalize(cfg.Name, config.ProviderSMTP)
	switch backend {
	case config.ProviderSMTP:
		transport, err := emailprovider.NewSMTPTransport(cfg.SMTP, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: smtp transport init: %w", err)
		}
		logger.Info().
			Str("backend", backend).
			Str("host", cfg.SMTP.Host).
			Int("port", cfg.SMTP.Port).
			Str("tls_mode", cfg.SMTP.TLSMode).
			Msg("email transport initialised")
		return transport, nil
	case config.ProviderResend:
		transport, err := emailprovider.NewResendTransport(cfg.Resend, logger)
		if err != nil {
			return nil, fmt.Errorf("factory: resend transport init: %w", err)
		}
		logger.Info().
			Str("backend", backend).
			Msg("email transport initialised")
		return transport, nil
	case config.ProviderMock:
		transport := emailprovider.NewMockTransport(logger)
		logger.Info().
			Str("backend", backend).
			Msg("email transport initialised")
		return transport, nil
	default:
		return nil, fmt.Errorf("factory: unsupported email provider backend %q", cfg.Name)
	}
}

func normalize(value, def string) string {
	value = strings.TrimSpace(strings.ToLower(value))
	if value == "" {
		return def
	}
	return value
}
