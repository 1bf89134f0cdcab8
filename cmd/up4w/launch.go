package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/launcher"
)

func newLaunchCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [-- host-args...]",
		Short: "Start the peer host and print its endpoints",
		Long: `Start the native peer host configured under launcher.command, wait until it
reports its API port, print the endpoints and keep it running until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				lc := a.cfg.Launcher
				if lc.Command == "" {
					return fmt.Errorf("%w: launcher.command is not set", errs.ErrConfiguration)
				}
				p, err := launcher.Launch(ctx, launcher.Config{
					Command:      lc.Command,
					Args:         append(append([]string{}, lc.Args...), args...),
					AppData:      lc.AppData,
					Host:         lc.Host,
					ReadyTimeout: lc.ReadyTimeout,
					Stderr:       a.errOut,
					Logger:       a.log,
				})
				if err != nil {
					return err
				}
				defer p.Stop()

				ready := p.Ready()
				if a.jsonOutput(cmd) {
					if err := render.WriteJSON(a.out, ready); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(a.out, "http  %s\nws    %s\n", ready.AvailableEndpoint.HTTP, ready.AvailableEndpoint.WS)
				}

				select {
				case <-ctx.Done():
					return nil
				case <-p.Done():
					if err := p.Err(); err != nil {
						return fmt.Errorf("%w: %w", launcher.ErrExited, err)
					}
					return launcher.ErrExited
				}
			})
		},
	}
	return cmd
}
