package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
	"github.com/gezibash/up4w/internal/names"
)

func newNamesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "names",
		Short: "Manage local names for peer public keys",
		Long: `Manage local names for peer public keys.

Names are stored in names.json under the data directory. Commands that take
a recipient accept @name in place of the key.`,
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name> <public-key>",
			Short: "Map a name to a public key",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(func() error {
					book, err := a.names()
					if err != nil {
						return err
					}
					return book.Add(args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:     "rm <name>",
			Aliases: []string{"remove"},
			Short:   "Remove a name",
			Args:    cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(func() error {
					book, err := a.names()
					if err != nil {
						return err
					}
					return book.Remove(args[0])
				})
			},
		},
		&cobra.Command{
			Use:     "ls",
			Aliases: []string{"list"},
			Short:   "List names",
			Args:    cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.run(func() error {
					book, err := a.names()
					if err != nil {
						return err
					}
					entries := book.List()
					if a.jsonOutput(cmd) {
						return render.WriteJSON(a.out, entries)
					}
					tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
					for _, e := range entries {
						fmt.Fprintf(tw, "@%s\t%s\t%s\n", e.Name, e.Key, names.Petname(e.Key))
					}
					return tw.Flush()
				})
			},
		},
	)
	return cmd
}
