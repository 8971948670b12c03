package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/yourusername/shape-forge/internal/config"
	"github.com/yourusername/shape-forge/internal/convert"
	"github.com/yourusername/shape-forge/internal/jobs"
)

func newStatusCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status JOB_ID...",
		Short: "Show conversion job records from the configured job store",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store, err := jobs.OpenStore(cmd.Context(), jobs.StoreOptions{
				Backend:     cfg.StoreBackend,
				RedisURL:    cfg.StoreRedisURL,
				TTL:         time.Duration(cfg.JobExpireMinutes) * time.Minute,
				SQLitePath:  cfg.SQLitePath,
				PostgresDSN: cfg.PostgresDSN,
			})
			if err != nil {
				return err
			}
			defer store.Close()

			payloads := make([]convert.StatusPayload, 0, len(args))
			for _, id := range args {
				job, err := store.Get(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("%s: %w", id, err)
				}
				payloads = append(payloads, convert.NewStatusPayload(job))
			}
			return writeStatus(cmd.OutOrStdout(), payloads, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func writeStatus(out io.Writer, payloads []convert.StatusPayload, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(payloads)
	}

	rows := make([][]string, len(payloads))
	for i, p := range payloads {
		detail := p.OutputName
		if p.Status == jobs.StatusFailed {
			detail = p.ErrorCode + ": " + firstLine(p.Error)
		}
		completed := "-"
		if p.CompletedAt != nil {
			completed = p.CompletedAt.Local().Format(time.DateTime)
		}
		rows[i] = []string{p.ID, string(p.Status), p.OriginalName, detail, completed}
	}
	if isTerminal(out) {
		fmt.Fprintln(out, renderTable([]string{"ID", "Status", "Archive", "Result", "Completed"}, rows))
		return nil
	}
	for _, row := range rows {
		fmt.Fprintln(out, strings.Join(row, "\t"))
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
