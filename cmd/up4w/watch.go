package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
	errs "github.com/gezibash/up4w/pkg/errors"
	"github.com/gezibash/up4w/pkg/manager"
	"github.com/gezibash/up4w/pkg/provider"
	"github.com/gezibash/up4w/pkg/up4w"
	"github.com/gezibash/up4w/pkg/wire"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		filter   string
		noEnable bool
	)

	cmd := &cobra.Command{
		Use:   "watch [topic]",
		Short: "Print pushed frames as they arrive",
		Long: `Subscribe to a push topic (default msg.received) and print each delivery.

Deliveries are deduplicated by message id across reconnects using the
configured dedup backend. --filter takes a CEL expression over the message
fields: rsp, ret, swarm, id, timestamp, sender, app, recipient, action,
content, content_type, media.

Examples:
  up4w watch -e ws://127.0.0.1:9980/api
  up4w watch --filter 'sender == "BASE64KEY" && app == 1'
  up4w watch --dedup sqlite --metrics-addr :9090
  up4w watch swarm.event --no-enable`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer stop()

				topic := wire.PushTopic
				if len(args) == 1 {
					topic = args[0]
				}
				c, err := a.client()
				if err != nil {
					return err
				}
				if !c.Manager().CanSubscribe() {
					return fmt.Errorf("%w: watch needs a ws:// or wss:// endpoint", errs.ErrConfiguration)
				}
				if addr := a.cfg.Observability.MetricsAddr; addr != "" {
					a.obs.SetHealth(func() error {
						if !c.Manager().Provider().Connected() {
							return errs.NotOpen(0, "")
						}
						return nil
					})
					if _, err := a.obs.ServeMetrics(ctx, addr); err != nil {
						return err
					}
				}
				return a.watch(ctx, cmd, c, topic, filter, !noEnable && topic == wire.PushTopic)
			})
		},
	}
	cmd.Flags().StringVar(&filter, "filter", "", "CEL expression deliveries must match")
	cmd.Flags().BoolVar(&noEnable, "no-enable", false, "do not send msg.receive_push first")
	cmd.Flags().String("metrics-addr", "", "serve /metrics and /healthz on this address")
	_ = a.v.BindPFlag("observability.metrics_addr", cmd.Flags().Lookup("metrics-addr"))
	return cmd
}

// closedPoll is how often watch checks whether the provider stopped for good.
var closedPoll = 250 * time.Millisecond

func (a *app) watch(ctx context.Context, cmd *cobra.Command, c *up4w.Client, topic, filter string, enable bool) error {
	deliveries := make(chan *wire.Response, 64)
	failures := make(chan error, 1)
	terminal := make(chan error, 1)

	unsubscribe, err := c.Msg.Subscribe(&manager.Subscription{
		Req:    topic,
		Filter: filter,
		Callback: func(resp *wire.Response, err error) {
			if err != nil {
				out := failures
				if terminalError(err) {
					out = terminal
				}
				select {
				case out <- err:
				default:
				}
				return
			}
			select {
			case deliveries <- resp:
			case <-ctx.Done():
			}
		},
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	if enable {
		if err := c.Msg.EnableReceivePush(ctx, nil); err != nil {
			return fmt.Errorf("enable receive push: %w", err)
		}
	}
	a.log.WithTopic(topic).Info("watching", "endpoint", c.Endpoint(), "filter", filter)

	tick := time.NewTicker(closedPoll)
	defer tick.Stop()
	for {
		select {
		case err := <-terminal:
			return err
		default:
		}

		select {
		case <-ctx.Done():
			return nil
		case err := <-terminal:
			return err
		case err := <-failures:
			a.log.WithError(err).Warn("transport error")
		case resp := <-deliveries:
			if err := a.printDelivery(cmd, resp); err != nil {
				return err
			}
		case <-tick.C:
			if providerClosed(c) {
				for len(deliveries) > 0 {
					if err := a.printDelivery(cmd, <-deliveries); err != nil {
						return err
					}
				}
				return fmt.Errorf("watch: %w", errs.ErrConnectionClosed)
			}
		}
	}
}

func terminalError(err error) bool {
	return errs.Is(err, errs.ErrConnectionClosed) || errs.Is(err, errs.ErrMaxAttempts)
}

// providerClosed reports whether the provider reached a state it only
// leaves on an explicit reconnect. A clean close from the peer ends there
// without notifying subscriptions.
func providerClosed(c *up4w.Client) bool {
	s, ok := c.Manager().Provider().(interface{ State() provider.State })
	return ok && s.State() == provider.StateClosed
}

func (a *app) printDelivery(cmd *cobra.Command, resp *wire.Response) error {
	if a.jsonOutput(cmd) {
		return render.WriteJSONLine(a.out, resp)
	}
	if resp.Rsp == wire.PushTopic {
		var msg up4w.Message
		if err := resp.Decode(&msg); err == nil {
			label := ""
			if book, err := a.names(); err == nil {
				label = book.Label(msg.Sender)
			}
			return render.Message(a.out, &msg, label, a.width())
		}
	}
	return render.WriteJSONLine(a.out, resp.Ret)
}
