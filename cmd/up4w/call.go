package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gezibash/up4w/cmd/up4w/render"
	"github.com/gezibash/up4w/pkg/wire"
)

func newCallCmd(a *app) *cobra.Command {
	var stream bool

	cmd := &cobra.Command{
		Use:   "call <method> [json-arg]",
		Short: "Send one raw request and print the reply",
		Long: `Send one request to the peer and print the ret field of the reply.

The argument is sent as JSON when it parses as JSON and as a string otherwise.

Examples:
  up4w call core.ver
  up4w call netkv.get '{"key":"..."}'
  up4w call social.remove_user PUBKEY
  up4w call msg.list --stream`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(func() error {
				c, err := a.client()
				if err != nil {
					return err
				}
				req := &wire.Request{Req: args[0]}
				if len(args) == 2 {
					req.Arg = parseArg(args[1])
				}

				if !stream {
					resp, err := c.Manager().Send(cmd.Context(), req)
					if err != nil {
						return err
					}
					return a.printReply(cmd, resp)
				}

				frames := make(chan result, 16)
				c.Manager().Stream(req, func(resp *wire.Response, err error) {
					frames <- result{resp, err}
				})
				for {
					select {
					case r := <-frames:
						if r.err != nil {
							return r.err
						}
						if err := a.printReply(cmd, r.resp); err != nil {
							return err
						}
						if r.resp.Final() {
							return nil
						}
					case <-cmd.Context().Done():
						return cmd.Context().Err()
					}
				}
			})
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "print every frame until the final one")
	return cmd
}

type result struct {
	resp *wire.Response
	err  error
}

func parseArg(s string) any {
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	return s
}

func (a *app) printReply(cmd *cobra.Command, resp *wire.Response) error {
	if a.jsonOutput(cmd) {
		return render.WriteJSONLine(a.out, resp)
	}
	if resp.Failed() {
		return fmt.Errorf("%s: remote error: %v", resp.Rsp, resp.Err)
	}
	if !resp.HasRet() {
		_, err := fmt.Fprintln(a.out, "ok")
		return err
	}
	var v any
	if err := json.Unmarshal(resp.Ret, &v); err != nil {
		return err
	}
	if s, ok := v.(string); ok {
		_, err := fmt.Fprintln(a.out, s)
		return err
	}
	return render.WriteJSON(a.out, v)
}
