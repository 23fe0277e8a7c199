package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/emaileria/internal/config"
	"github.com/example/emaileria/internal/kafka/producer"
	kafkapublisher "github.com/example/emaileria/internal/kafka/publisher"
	"github.com/example/emaileria/internal/logger"
	"github.com/example/emaileria/internal/metrics"
	"github.com/example/emaileria/internal/providers/factory"
	"github.com/example/emaileria/internal/ratelimit"
	"github.com/example/emaileria/internal/report"
	"github.com/example/emaileria/internal/worker"
)

type sendFlags struct {
	dryRun       bool
	rateLimit    string
	interval     float64
	smtpUser     string
	smtpPassword string
}

func (a *app) sendCommand() *cobra.Command {
	var sf sendFlags
	cmd := &cobra.Command{
		Use:   "send [contacts]",
		Short: "Render and send one message per contact",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.send(cmd, args, sf)
		},
	}
	a.registerRunFlags(cmd)
	fs := cmd.Flags()
	fs.BoolVar(&sf.dryRun, "dry-run", false, "render every message without sending")
	fs.StringVar(&sf.rateLimit, "rate-limit", "", "messages per minute (0 disables; default RATE_LIMIT_PER_MINUTE)")
	fs.Float64Var(&sf.interval, "interval", 0, "seconds to pause between sends (default SEND_INTERVAL_SECONDS)")
	fs.StringVar(&sf.smtpUser, "smtp-user", "", "SMTP user (default SMTP_USER)")
	fs.StringVar(&sf.smtpPassword, "smtp-password", "", "SMTP password; prefer SMTP_PASS or a .env file")
	return cmd
}

func (a *app) send(cmd *cobra.Command, args []string, sf sendFlags) error {
	ctx := cmd.Context()
	params, err := a.resolveParams(cmd, args)
	if err != nil {
		return err
	}
	if err := a.applySendFlags(cmd, params, sf); err != nil {
		return err
	}

	if !params.DryRun {
		if err := a.cfg.ValidateTransport(); err != nil {
			return usage(err)
		}
	}

	table, err := a.loadContacts(params)
	if err != nil {
		return err
	}

	recorder := metrics.NewRecorder()
	publishers := worker.MultiPublisher{recorder}
	if kafkaPub, closeKafka := a.statusStream(); kafkaPub != nil {
		defer closeKafka()
		publishers = append(publishers, kafkaPub)
	}

	engine, err := a.newEngine(worker.Dependencies{
		Limiter:         ratelimit.NewPerMinute(params.RateLimitPerMinute),
		StatusPublisher: publishers,
	})
	if err != nil {
		return usage(err)
	}

	req := request(params, table)
	if _, err := engine.Render(req, 0); err != nil {
		return fmt.Errorf("validation failed, nothing was sent: %w", err)
	}

	if !params.DryRun {
		transport, err := factory.Email(a.cfg.Provider, logger.Component(a.log, "email_transport"))
		if err != nil {
			return usage(err)
		}
		defer func() {
			if err := transport.Close(); err != nil {
				a.log.Error().Err(err).Msg("failed to close email transport")
			}
		}()
		req.Transport = transport
	}

	a.log.Info().
		Int("contacts", len(req.Recipients)).
		Bool("dry_run", params.DryRun).
		Float64("rate_limit_per_minute", params.RateLimitPerMinute).
		Float64("interval_seconds", params.IntervalSeconds).
		Msg("run started")

	outcome, runErr := engine.SendAll(ctx, req)

	a.persist(ctx, outcome, recorder)

	summary := report.Summarize(outcome.Results)
	if params.DryRun {
		a.log.Debug().
			Int("total", summary.Total).
			Int("sucesso", summary.Succeeded).
			Int("falha", summary.Failed).
			Msg("dry run summary")
	}
	if err := summary.Write(a.stdout); err != nil {
		a.log.Error().Err(err).Msg("failed to print summary")
	}

	switch {
	case runErr != nil:
		return runErr
	case outcome.Cancelled:
		return errCancelled
	case summary.Failed > 0:
		return errDeliveryFailed
	}
	return nil
}

func (a *app) applySendFlags(cmd *cobra.Command, p *config.RunParams, sf sendFlags) error {
	changed := cmd.Flags().Changed
	if changed("dry-run") {
		p.DryRun = sf.dryRun
	}
	if changed("rate-limit") {
		rate, warning := config.ParseRateLimit(sf.rateLimit)
		if warning != "" {
			a.log.Warn().Msg(warning)
		}
		p.RateLimitPerMinute = rate
	}
	if changed("interval") {
		if !validInterval(sf.interval) {
			return usage(errors.New("--interval must be a finite number >= 0"))
		}
		p.IntervalSeconds = sf.interval
	}
	if changed("smtp-user") {
		a.cfg.Provider.SMTP.User = sf.smtpUser
	}
	if changed("smtp-password") {
		a.log.Warn().Msg("passing --smtp-password on the command line exposes it to other users; prefer SMTP_PASS or a .env file")
		a.cfg.Provider.SMTP.Pass = sf.smtpPassword
	}
	return nil
}

// statusStream connects the optional Kafka status stream. Failing to
// connect only disables the stream.
func (a *app) statusStream() (worker.StatusPublisher, func()) {
	if len(a.cfg.Status.KafkaBrokers) == 0 {
		return nil, nil
	}
	log := logger.Component(a.log, "kafka")
	prod, err := producer.New(a.cfg.Status.KafkaBrokers, log)
	if err != nil {
		log.Warn().Err(err).Msg("status stream disabled")
		return nil, nil
	}
	pub := kafkapublisher.NewStatusPublisher(prod, a.cfg.Status.KafkaTopic, logger.Component(a.log, "status_publisher"))
	return pub, func() {
		if err := prod.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka producer")
		}
	}
}

// persist writes the delivery logs and metrics. Failures are logged and
// never change the run's exit status.
func (a *app) persist(ctx context.Context, outcome worker.Outcome, recorder *metrics.Recorder) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	var sinks []report.Sink
	if path := a.cfg.Output.CSVLogPath; path != "" {
		sinks = append(sinks, report.NewCSVLog(path))
	}
	if path := a.cfg.Output.SQLitePath; path != "" {
		store, err := report.OpenSQLiteStore(ctx, path)
		if err != nil {
			a.log.Error().Err(err).Msg("sqlite delivery log unavailable")
		} else {
			defer store.Close()
			sinks = append(sinks, store)
		}
	}
	if err := report.Fanout(ctx, outcome.RunID, outcome.Results, sinks...); err != nil {
		a.log.Error().Err(err).Msg("failed to write delivery log")
	}

	if path := a.cfg.Output.MetricsFile; path != "" {
		if err := recorder.WriteTextfile(path); err != nil {
			a.log.Error().Err(err).Msg("failed to write metrics")
		}
	}
}

func maxArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usage(cobra.MaximumNArgs(n)(cmd, args))
	}
}
