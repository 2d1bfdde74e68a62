package main

import (
	"encoding/json"
	"strings"

	"auditflow/internal/gateway/rpc"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	var baseURL string
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Fetch a finished run's metadata from stage two",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(baseURL) == "" {
				baseURL = cfg.Forward.BaseURL
			}
			res, err := rpc.NewStatusClient(nil, baseURL).GetRunStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&baseURL, "server", "", "stage-two base URL (default: forward.base_url)")
	return cmd
}
