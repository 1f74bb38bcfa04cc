package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkt.systems/eclkernel/internal/version"
	"pkt.systems/eclkernel/schema"
)

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Read()
			if short {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), info.Implementation())
				return err
			}
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s %s (messaging protocol %s)\n",
				info.Module, info.String(), schema.DefaultProtocolVersion)
			return err
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "print only the implementation version")
	return cmd
}
