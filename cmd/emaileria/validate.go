package main

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/example/emaileria/internal/preview"
	"github.com/example/emaileria/internal/templating"
	"github.com/example/emaileria/internal/worker"
)

const (
	validateSampleSize = 3
	snippetLength      = 200
)

func (a *app) validateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [contacts]",
		Short: "Check contacts and templates without sending",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			params, err := a.resolveParams(cmd, args)
			if err != nil {
				return err
			}
			table, err := a.loadContacts(params)
			if err != nil {
				return err
			}
			engine, err := a.newEngine(worker.Dependencies{})
			if err != nil {
				return usage(err)
			}
			rendered, err := engine.Render(request(params, table), 0)
			if err != nil {
				return err
			}

			placeholders := lo.Uniq(append(templating.Placeholders(params.SubjectTemplate), templating.Placeholders(params.BodyTemplate)...))
			w := a.stdout
			fmt.Fprintf(w, "ok: %d contact(s) rendered\n", len(rendered))
			fmt.Fprintf(w, "columns: %s\n", strings.Join(table.Headers, ", "))
			fmt.Fprintf(w, "placeholders: %s\n", strings.Join(placeholders, ", "))
			for _, r := range rendered[:min(validateSampleSize, len(rendered))] {
				fmt.Fprintf(w, "  linha %d %s\n    assunto: %s\n    corpo: %s\n", r.Row, r.Recipient, r.Subject, preview.Snippet(r.Body, snippetLength))
			}
			return nil
		},
	}
	a.registerRunFlags(cmd)
	return cmd
}
