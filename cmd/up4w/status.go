package main

import (
	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
)

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the peer status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				c, err := a.client()
				if err != nil {
					return err
				}
				st, err := c.Core.Status(cmd.Context())
				if err != nil {
					return err
				}
				if a.jsonOutput(cmd) {
					return render.WriteJSON(a.out, st)
				}
				return render.Status(a.out, st)
			})
		},
	}
}
