package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/emaileria/internal/preview"
	"github.com/example/emaileria/internal/worker"
)

const defaultPreviewCount = 5

func (a *app) previewCommand() *cobra.Command {
	var (
		count  int
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "preview [contacts]",
		Short: "Render the first contacts into an HTML gallery",
		Args:  maxArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count <= 0 {
				return usage(errors.New("--count must be a positive integer"))
			}
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
			rendered, err := engine.Render(request(params, table), count)
			if err != nil {
				return err
			}

			entries := make([]preview.Entry, 0, len(rendered))
			for _, r := range rendered {
				entries = append(entries, preview.Entry{Position: r.Row, Recipient: r.Recipient, Subject: r.Subject, Body: r.Body})
			}
			path, err := preview.Write(outDir, time.Now(), entries)
			if err != nil {
				return err
			}
			a.log.Info().Str("path", path).Int("messages", len(entries)).Msg("preview written")
			_, err = fmt.Fprintln(a.stdout, path)
			return err
		},
	}
	a.registerRunFlags(cmd)
	cmd.Flags().IntVar(&count, "count", defaultPreviewCount, "number of contacts to render")
	cmd.Flags().StringVar(&outDir, "output-dir", "previews", "directory receiving timestamped galleries")
	return cmd
}
