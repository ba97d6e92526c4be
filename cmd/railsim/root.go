package main

import (
	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rail-control-simulator/internal/config"
	"github.com/signalsfoundry/rail-control-simulator/internal/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "railsim",
		Short: "Rail simulator coordination core: shared clock, beacons and safety arbitration.",
		Long: `railsim hosts the authoritative simulated clock and the diverse safety arbiter, ` +
			`and provides tools for collaborator processes: watching the shared clock, ` +
			`encoding beacon payloads and exporting the safety audit trail.`,
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file (default $RAILSIM_CONFIG)")
	pf.String("log-level", "", "debug, info, warn or error")
	pf.String("log-format", "", "text or json")

	root.AddCommand(newServeCmd(), newWatchCmd(), newBeaconCmd(), newAuditCmd())
	return root
}

// loadConfig resolves configuration for cmd, binding its flags, and builds
// the logger writing to the command's stderr. A rejected configuration is
// reported through a logger configured from the environment alone.
func loadConfig(cmd *cobra.Command) (config.Config, logging.Logger, error) {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		logging.NewFromEnv(cmd.ErrOrStderr()).Error(cmd.Context(), "configuration rejected",
			logging.String("command", cmd.CommandPath()),
			logging.Err(err),
		)
		return config.Config{}, nil, err
	}
	lc := cfg.Logging()
	lc.Output = cmd.ErrOrStderr()
	return cfg, logging.New(lc), nil
}
