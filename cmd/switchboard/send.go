package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tailored-agentic-units/switchboard/client"
	"github.com/tailored-agentic-units/switchboard/message"
	"github.com/tailored-agentic-units/switchboard/observability"
	"github.com/tailored-agentic-units/switchboard/route"
	"github.com/tailored-agentic-units/switchboard/transport"
	"github.com/tailored-agentic-units/switchboard/transport/rpc"
)

type sendResult struct {
	ClientID string         `json:"client_id"`
	Path     string         `json:"path"`
	Hash     string         `json:"hash"`
	Message  message.Record `json:"message"`
}

func newSendCommand(opts *RootOptions) *cobra.Command {
	var (
		location string
		tabID    int
		name     string
		attrs    string
	)

	cmd := &cobra.Command{
		Use:   "send <path>",
		Short: "Attach to a running switchboard as a remote context and send one message",
		Long: `Attach to a running switchboard over the Connect bridge, bootstrap a
client at --location, and route one message along <path>.

	switchboard send background/42#content-wave --name start
	switchboard send background/42#content-wave --name update-wave --attrs '{"speed":3}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			loc, err := route.ParseLocation(location)
			if err != nil {
				return err
			}

			var attributes map[string]any
			if attrs != "" {
				if err := json.Unmarshal([]byte(attrs), &attributes); err != nil {
					return fmt.Errorf("invalid --attrs: %w", err)
				}
			}

			observer, err := observability.GetObserver(cfg.Observer)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			proxy, err := rpc.Dial(ctx, cfg.RPC, loc, tabID, nil, opts.log())
			if err != nil {
				return err
			}
			defer proxy.Close()

			clientCfg := cfg.Client
			clientCfg.Location = loc.String()
			clientCfg.TabID = tabID

			messenger, err := transport.NewMessenger(clientCfg, proxy, observer)
			if err != nil {
				return err
			}
			defer messenger.Close()

			c, err := client.New(&clientCfg, messenger, client.WithObserver(observer))
			if err != nil {
				return err
			}
			defer c.Close()

			go func() { _ = c.Run(ctx) }()

			if err := c.Initialize(ctx); err != nil {
				return err
			}

			builder := message.New(name, loc).ClientID(c.ID())
			if attributes != nil {
				builder = builder.Attributes(attributes)
			}
			env, err := builder.Build()
			if err != nil {
				return err
			}

			if err := c.SendMessage(ctx, transport.ClientMessage{Path: args[0], Message: env}); err != nil {
				return err
			}

			result := sendResult{ClientID: c.ID(), Path: args[0], Hash: env.Hash(), Message: env.Record()}
			if opts.Format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s as %s (%s)\n", name, args[0], result.ClientID, result.Hash)
			return nil
		},
	}

	cmd.Flags().StringVar(&location, "location", "popup", "location to attach as (popup|content|background|api)")
	cmd.Flags().IntVar(&tabID, "tab", 0, "tab id when attaching as content")
	cmd.Flags().StringVar(&name, "name", "", "message name")
	cmd.Flags().StringVar(&attrs, "attrs", "", "message attributes as a JSON object")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}
