package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/jwlerch78/dashieapp-staging-sub003/internal/core"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the auth event log",
}

var auditLogCmd = &cobra.Command{
	Use:   "log <file>",
	Short: "Display auth events from a file audit log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		entries, err := readAuditLog(args[0])
		if err != nil {
			return err
		}
		if limit > 0 && len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		log.Info().Msgf("Showing %d audit entries", len(entries))

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{
			"Time", "Action", "Subject", "Success", "Provider", "Error",
		})

		for _, e := range entries {
			status := "YES"
			if !e.Success {
				status = "NO"
			}

			sub := "(unknown)"
			if e.Subject != "" {
				sub = truncate(e.Subject, 35)
			}

			t.AppendRow(table.Row{
				e.Time.Format(time.RFC3339),
				e.Action,
				sub,
				status,
				e.Provider,
				e.Error,
			})
		}

		t.Render()
		return nil
	},
}

func readAuditLog(path string) ([]core.AuditEntry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer func() {
		_ = file.Close()
	}()

	var entries []core.AuditEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry core.AuditEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			log.Warn().Err(err).Msg("skipping malformed audit entry")
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return entries, nil
}

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditLogCmd)

	auditLogCmd.Flags().Int("limit", 50, "Maximum number of entries to display")
}
