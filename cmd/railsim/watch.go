package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/signalsfoundry/rail-control-simulator/internal/railrpc"
	"github.com/signalsfoundry/rail-control-simulator/internal/timeslot"
)

type watchOptions struct {
	interval time.Duration
	count    int
	remote   string
	train    string
}

func newWatchCmd() *cobra.Command {
	var opts watchOptions
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print the synchronized simulated clock as a collaborator sees it",
		Long: `watch attaches to the shared time slot read-only and prints the simulated ` +
			`time published by the running authority. With --remote it asks the ` +
			`authority's gRPC service instead, including the arbiter state of --train.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			if opts.remote != "" {
				if opts.train == "" {
					opts.train = cfg.Train.ID
				}
				return watchRemote(ctx, out, opts)
			}
			r, err := timeslot.OpenFileReader(cfg.Clock.SlotPath, cfg.Clock.LockPath)
			if err != nil {
				return fmt.Errorf("attach to %s: %w", cfg.Clock.SlotPath, err)
			}
			defer r.Close()
			return watchSlot(ctx, out, r, opts)
		},
	}
	f := cmd.Flags()
	f.String("slot", "", "shared time slot file")
	f.String("lock", "", "lock file guarding the slot (default <slot>.lock)")
	f.String("train", "", "train whose arbiter is shown with --remote")
	f.DurationVar(&opts.interval, "interval", time.Second, "wall time between samples")
	f.IntVar(&opts.count, "count", 0, "stop after this many samples (0 runs until interrupted)")
	f.StringVar(&opts.remote, "remote", "", "gRPC address of a running authority")
	return cmd
}

// every calls fn immediately and then once per interval until fn fails, n
// samples were taken or ctx is done.
func every(ctx context.Context, interval time.Duration, n int, fn func() error) error {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for i := 0; n <= 0 || i < n; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-t.C:
			}
		}
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

func watchSlot(ctx context.Context, out io.Writer, r *timeslot.Reader, opts watchOptions) error {
	return every(ctx, opts.interval, opts.count, func() error {
		st, err := r.Load()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s seq=%d\n", st.Time().Format(time.RFC3339Nano), st.Seq)
		return nil
	})
}

func watchRemote(ctx context.Context, out io.Writer, opts watchOptions) error {
	cc, err := grpc.NewClient(opts.remote, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("dial %s: %w", opts.remote, err)
	}
	defer cc.Close()
	client := railrpc.NewClient(cc)

	return every(ctx, opts.interval, opts.count, func() error {
		callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		now, err := client.SimTime(callCtx)
		if err != nil {
			return err
		}
		line := now.Format(time.RFC3339Nano)
		if opts.train != "" {
			st, err := client.Arbiter(callCtx, opts.train)
			if err != nil {
				return err
			}
			line += fmt.Sprintf(" train=%s arbiter=%s owns_brake=%t", st.TrainID, st.State, st.OwnsBrake)
		}
		fmt.Fprintln(out, line)
		return nil
	})
}
