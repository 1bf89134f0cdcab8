package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
	"github.com/gezibash/up4w/pkg/up4w"
)

func newReadyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready [init.json|-]",
		Short: "Initialize the peer unless it already is",
		Long: `Query the peer status and send core.init when it is not initialized.

The init parameters are read from the given file, or stdin with "-".

Example init.json:
  {"app_name":"chat","mrc":{"msgs_dir":":mem"},"mlt":{},"gdp":{},"pbc":{},"lsm":{}}`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				var init *up4w.InitRequest
				if len(args) == 1 {
					data, err := readInput(args[0])
					if err != nil {
						return err
					}
					init = &up4w.InitRequest{}
					if err := json.Unmarshal(data, init); err != nil {
						return fmt.Errorf("parse init parameters: %w", err)
					}
				}

				c, err := a.client()
				if err != nil {
					return err
				}
				st, err := c.WhenReady(cmd.Context(), init)
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
	return cmd
}

// readInput reads a file, or stdin for "-".
func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}
