package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"auditflow/internal/events"
	"auditflow/internal/forward"
	"auditflow/internal/gateway/app"
	"auditflow/internal/observability"
	"auditflow/internal/pipeline"

	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		jobID  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "scan <archive>",
		Short: "Scan a local .zip or .tar.gz archive and print its issues document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			p, err := app.NewStageOnePipeline(cfg, events.Nop{}, observability.GetLogger())
			if err != nil {
				return err
			}
			res, err := p.Run(cmd.Context(), pipeline.Upload{
				JobID:    jobID,
				Filename: filepath.Base(args[0]),
				Body:     f,
			}, pipeline.ModeIssues, forward.VariantStatus)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if output != "" && output != "-" {
				file, err := os.Create(output)
				if err != nil {
					return err
				}
				defer file.Close()
				out = file
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(res.Issues); err != nil {
				return fmt.Errorf("write issues: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier (default: generated)")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "write the issues document to this file")
	return cmd
}
