package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/signalsfoundry/rail-control-simulator/beacon"
)

func newBeaconCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "beacon",
		Short: "Encode and decode beacon payloads in their hex wire form",
	}
	cmd.AddCommand(newBeaconEncodeCmd(), newBeaconDecodeCmd())
	return cmd
}

func newBeaconEncodeCmd() *cobra.Command {
	var (
		width int
		bits  []int
	)
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the wire form of a payload with the given bits set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := beacon.New(beacon.Width(width))
			if err != nil {
				return err
			}
			for _, pos := range bits {
				if !beacon.WriteBit(v, pos, true) {
					return fmt.Errorf("bit %d is outside a %d-bit payload", pos, width)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), beacon.ToHex(v))
			return nil
		},
	}
	cmd.Flags().IntVar(&width, "width", int(beacon.DefaultWidth), "payload width in bits (128 or 256)")
	cmd.Flags().IntSliceVar(&bits, "bits", nil, "positions of set bits")
	return cmd
}

func newBeaconDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode HEX",
		Short: "Describe a payload given in its wire form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := beacon.ParseHex(strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			bits := beacon.ReadBits(v, 0, int(v.Width()))
			var set []string
			for i, b := range bits {
				if b {
					set = append(set, fmt.Sprint(i))
				}
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "width:  %d\n", v.Width())
			fmt.Fprintf(out, "active: %t\n", beacon.IsActive(v))
			fmt.Fprintf(out, "set:    [%s]\n", strings.Join(set, " "))
			return nil
		},
	}
}
