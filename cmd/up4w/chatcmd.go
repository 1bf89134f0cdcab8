package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/chat"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/up4w"
)

func newChatCmd(a *app) *cobra.Command {
	var appID int

	cmd := &cobra.Command{
		Use:   "chat <recipient|@name>",
		Short: "Open an interactive conversation with one peer",
		Long: `Open a full-screen conversation with one peer. Incoming messages from the
peer are shown as they are pushed, and each line typed is sent with msg.text.
Needs a ws:// or wss:// endpoint.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				book, err := a.names()
				if err != nil {
					return err
				}
				peer, err := book.Resolve(args[0])
				if err != nil {
					return err
				}
				c, err := a.client()
				if err != nil {
					return err
				}
				if !c.Manager().CanSubscribe() {
					return fmt.Errorf("%w: chat needs a ws:// or wss:// endpoint", errs.ErrConfiguration)
				}

				events := make(chan chat.Event, 64)
				filter := "sender == " + strconv.Quote(peer) + " && app == " + strconv.Itoa(appID)
				unsubscribe, err := c.Msg.OnMessage(ctx, func(msg *up4w.Message, err error) {
					select {
					case events <- chat.Event{Msg: msg, Err: err}:
					case <-ctx.Done():
					}
				}, nil, filter)
				if err != nil {
					return err
				}
				defer unsubscribe()

				return chat.Run(ctx, chat.Config{
					Peer:     peer,
					Label:    book.Label(peer),
					Incoming: events,
					Send: func(ctx context.Context, text string) error {
						_, err := c.Msg.SendText(ctx, up4w.Text{Recipient: peer, Content: text, App: appID, Action: 4096})
						return err
					},
				})
			})
		},
	}
	cmd.Flags().IntVar(&appID, "app", 1, "application id")
	return cmd
}
