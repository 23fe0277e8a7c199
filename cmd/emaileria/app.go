package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/example/emaileria/internal/config"
	"github.com/example/emaileria/internal/contacts"
	"github.com/example/emaileria/internal/logger"
	"github.com/example/emaileria/internal/util"
	"github.com/example/emaileria/internal/worker"
)

type app struct {
	stdout io.Writer
	stderr io.Writer

	cfg *config.Config
	log zerolog.Logger

	logLevel string
	flags    runFlags
}

// runFlags are shared by send, preview and validate.
type runFlags struct {
	campaign            string
	contacts            string
	sheet               string
	sender              string
	subject             string
	subjectTemplateFile string
	body                string
	bodyTemplateFile    string
	markdown            bool
	cc                  []string
	bcc                 []string
	replyTo             string
	allowMissing        bool
	offset              int
	limit               int
}

func (a *app) rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "emaileria",
		Short:         "Send personalised HTML email to a spreadsheet of contacts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error { return usage(err) })
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error); overrides LOG_LEVEL")

	root.AddCommand(a.sendCommand(), a.previewCommand(), a.validateCommand())
	return root
}

func (a *app) init() error {
	cfg, err := config.Load()
	if err != nil {
		return usage(err)
	}
	level := cfg.App.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	base, err := logger.New(cfg.App.Env, level)
	if err != nil {
		return usage(err)
	}
	a.cfg = cfg
	a.log = base.With().Str("service", "emaileria").Logger()
	for _, w := range cfg.Warnings {
		a.log.Warn().Msg(w)
	}
	return nil
}

func (a *app) registerRunFlags(cmd *cobra.Command) {
	f := &a.flags
	fs := cmd.Flags()
	fs.StringVar(&f.campaign, "campaign", "", "YAML campaign file; flags override its values")
	fs.StringVar(&f.contacts, "contacts", "", "contacts file (.xlsx or .csv); may also be given as the first argument")
	fs.StringVar(&f.sheet, "sheet", "", "workbook sheet to read (default: first sheet)")
	fs.StringVar(&f.sender, "sender", "", "sender address (default: SMTP_FROM)")
	fs.StringVar(&f.subject, "subject-template", "", "subject template with {{ placeholders }}")
	fs.StringVar(&f.subjectTemplateFile, "subject-template-file", "", "file holding the subject template; overrides --subject-template")
	fs.StringVar(&f.body, "body-template", "", "HTML body template with {{ placeholders }}")
	fs.StringVar(&f.bodyTemplateFile, "body-template-file", "", "file holding the body template; .md files are rendered as markdown")
	fs.BoolVar(&f.markdown, "markdown", false, "treat the body template as markdown")
	fs.StringSliceVar(&f.cc, "cc", nil, "carbon copy addresses (comma or semicolon separated)")
	fs.StringSliceVar(&f.bcc, "bcc", nil, "blind carbon copy addresses (comma or semicolon separated)")
	fs.StringVar(&f.replyTo, "reply-to", "", "Reply-To address")
	fs.BoolVar(&f.allowMissing, "allow-missing-fields", false, "substitute empty values for missing placeholders instead of failing")
	fs.IntVar(&f.offset, "offset", 0, "contacts to skip before processing")
	fs.IntVar(&f.limit, "limit", 0, "maximum contacts to process after the offset (0: all)")
}

// resolveParams merges flags, the campaign file and the environment, in
// that order of precedence.
func (a *app) resolveParams(cmd *cobra.Command, args []string) (*config.RunParams, error) {
	f := a.flags
	changed := cmd.Flags().Changed

	camp := &config.Campaign{}
	campDir := ""
	if f.campaign != "" {
		loaded, err := config.LoadCampaign(f.campaign)
		if err != nil {
			return nil, usage(err)
		}
		camp = loaded
		campDir = filepath.Dir(f.campaign)
	}

	p := &config.RunParams{
		Sheet:              firstNonEmpty(f.sheet, camp.Sheet),
		Sender:             firstNonEmpty(f.sender, camp.Sender, a.cfg.Provider.SMTP.From),
		RateLimitPerMinute: a.cfg.Sending.RateLimitPerMinute,
		IntervalSeconds:    a.cfg.Sending.IntervalSeconds,
		AllowMissingFields: f.allowMissing || camp.AllowMissingFields,
		DryRun:             camp.DryRun,
		Offset:             camp.Offset,
		Limit:              camp.Limit,
	}

	switch {
	case len(args) > 0:
		p.ContactsPath = args[0]
	case f.contacts != "":
		p.ContactsPath = f.contacts
	default:
		p.ContactsPath = relativeTo(campDir, camp.Contacts)
	}

	var err error
	p.SubjectTemplate, _, err = pickTemplate(f.subjectTemplateFile, f.subject, relativeTo(campDir, camp.SubjectTemplateFile), camp.Subject)
	if err != nil {
		return nil, usage(err)
	}
	var bodyFile string
	p.BodyTemplate, bodyFile, err = pickTemplate(f.bodyTemplateFile, f.body, relativeTo(campDir, camp.BodyTemplateFile), camp.Body)
	if err != nil {
		return nil, usage(err)
	}
	p.Markdown = f.markdown || isMarkdownFile(bodyFile)

	ccRaw, bccRaw := camp.CC, camp.BCC
	if changed("cc") {
		ccRaw = f.cc
	}
	if changed("bcc") {
		bccRaw = f.bcc
	}
	if p.CC, err = util.ParseEmailList(ccRaw...); err != nil {
		return nil, usage(fmt.Errorf("cc: %w", err))
	}
	if p.BCC, err = util.ParseEmailList(bccRaw...); err != nil {
		return nil, usage(fmt.Errorf("bcc: %w", err))
	}
	if replyTo := firstNonEmpty(f.replyTo, camp.ReplyTo); replyTo != "" {
		if p.ReplyTo, err = util.NormalizeEmail(replyTo); err != nil {
			return nil, usage(fmt.Errorf("reply-to: %w", err))
		}
	}

	if camp.RateLimit != nil {
		rate, warning := config.CheckRateLimit(*camp.RateLimit)
		if warning != "" {
			a.log.Warn().Msg("campaign: " + warning)
		}
		p.RateLimitPerMinute = rate
	}
	if camp.IntervalSeconds != nil {
		if !validInterval(*camp.IntervalSeconds) {
			return nil, usage(fmt.Errorf("campaign: interval_seconds must be a finite number >= 0, got %v", *camp.IntervalSeconds))
		}
		p.IntervalSeconds = *camp.IntervalSeconds
	}
	if changed("offset") {
		p.Offset = f.offset
	}
	if changed("limit") {
		p.Limit = f.limit
	}

	if err := p.Validate(); err != nil {
		return nil, usage(err)
	}
	return p, nil
}

func (a *app) loadContacts(p *config.RunParams) (*contacts.Table, error) {
	table, err := contacts.Load(p.ContactsPath, contacts.Options{Sheet: p.Sheet, Offset: p.Offset, Limit: p.Limit})
	if err != nil {
		return nil, err
	}
	ev := a.log.Info().
		Str("file", filepath.Base(p.ContactsPath)).
		Int("contacts", len(table.Records)).
		Int("offset", p.Offset)
	if table.Sheet != "" {
		ev = ev.Str("sheet", table.Sheet)
	}
	ev.Msg("contacts loaded")
	if table.Skipped > 0 {
		a.log.Warn().Int("rows", table.Skipped).Msg("rows without email were skipped")
	}
	return table, nil
}

func (a *app) newEngine(deps worker.Dependencies) (*worker.Engine, error) {
	deps.Logger = logger.Component(a.log, "send_engine")
	return worker.NewEngine(worker.Config{MaxAttempts: a.cfg.Sending.MaxAttempts}, deps)
}

func request(p *config.RunParams, table *contacts.Table) worker.SendRequest {
	return worker.SendRequest{
		Sender:          p.Sender,
		Recipients:      table.Records,
		SubjectTemplate: p.SubjectTemplate,
		BodyTemplate:    p.BodyTemplate,
		DryRun:          p.DryRun,
		Options: worker.Options{
			AllowMissingFields: p.AllowMissingFields,
			Markdown:           p.Markdown,
			Interval:           time.Duration(p.IntervalSeconds * float64(time.Second)),
			CC:                 p.CC,
			BCC:                p.BCC,
			ReplyTo:            p.ReplyTo,
			Rows:               table.Rows,
		},
	}
}

// pickTemplate returns the first template source set, files before inline
// text, along with the file it came from.
func pickTemplate(flagFile, flagInline, campFile, campInline string) (string, string, error) {
	for _, src := range []struct{ file, inline string }{{flagFile, flagInline}, {campFile, campInline}} {
		if src.file != "" {
			raw, err := os.ReadFile(src.file)
			if err != nil {
				return "", "", fmt.Errorf("read template: %w", err)
			}
			return string(raw), src.file, nil
		}
		if src.inline != "" {
			return src.inline, "", nil
		}
	}
	return "", "", nil
}

func isMarkdownFile(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

func relativeTo(dir, path string) string {
	if path == "" || dir == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}

func validInterval(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
