package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func newVersionCmd(a *app) *cobra.Command {
	var peer bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				fmt.Fprintf(a.out, "up4w %s\n", version)
				fmt.Fprintf(a.out, "  commit:  %s\n", commit)
				fmt.Fprintf(a.out, "  built:   %s\n", buildDate)
				fmt.Fprintf(a.out, "  go:      %s\n", runtime.Version())
				if !peer {
					return nil
				}
				c, err := a.client()
				if err != nil {
					return err
				}
				v, err := c.Version(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(a.out, "  peer:    %s\n", v)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&peer, "peer", false, "also query the peer version")
	return cmd
}
