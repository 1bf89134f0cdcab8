package main

import (
	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
	"github.com/gezibash/up4w/pkg/up4w"
)

func newSendCmd(a *app) *cobra.Command {
	var text up4w.Text

	cmd := &cobra.Command{
		Use:   "send <recipient|@name> <content>",
		Short: "Send a text message",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				c, err := a.client()
				if err != nil {
					return err
				}
				book, err := a.names()
				if err != nil {
					return err
				}
				if text.Recipient, err = book.Resolve(args[0]); err != nil {
					return err
				}
				text.Content = args[1]
				ret, err := c.Msg.SendText(cmd.Context(), text)
				if err != nil {
					return err
				}
				if a.jsonOutput(cmd) {
					return render.WriteJSON(a.out, ret)
				}
				a.log.Info("message sent", "recipient", render.ShortKey(text.Recipient))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&text.App, "app", 1, "application id")
	cmd.Flags().IntVar(&text.Action, "action", 4096, "message action")
	cmd.Flags().StringVar(&text.Swarm, "swarm", "", "swarm address (default swarm when empty)")
	return cmd
}
