package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rail-control-simulator/internal/audit"
	"github.com/signalsfoundry/rail-control-simulator/safety"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the safety arbiter's audit trail",
	}
	cmd.AddCommand(newAuditExportCmd())
	return cmd
}

func newAuditExportCmd() *cobra.Command {
	var (
		out  string
		q    audit.Query
		kind string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write audit events as zstd-compressed JSON lines",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Audit.DBPath == "" {
				return fmt.Errorf("no audit database configured (use --audit-db)")
			}
			if _, err := os.Stat(cfg.Audit.DBPath); err != nil {
				return fmt.Errorf("audit database: %w", err)
			}
			q.Kind = safety.AuditKind(kind)

			st, err := audit.Open(cfg.Audit.DBPath, audit.WithLogger(log))
			if err != nil {
				return err
			}
			defer st.Close()

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			n, err := st.ExportJSONLZstd(cmd.Context(), w, q)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "exported %d audit events\n", n)
			return nil
		},
	}
	f := cmd.Flags()
	f.String("audit-db", "", "SQLite file holding the audit trail")
	f.StringVarP(&out, "output", "o", "-", "destination file, - for stdout")
	f.StringVar(&q.TrainID, "train-id", "", "only events of this train")
	f.StringVar(&kind, "kind", "", "only events of this kind (engaged, released, deferred)")
	f.IntVar(&q.Limit, "limit", 0, "maximum number of events")
	return cmd
}
