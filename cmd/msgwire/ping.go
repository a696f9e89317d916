package main

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/msgwire/internal/node"
	"github.com/spf13/cobra"
)

var (
	pingServer  string
	pingCount   int
	pingTimeout time.Duration
)

var pingCmd = &cobra.Command{
	Use:   "ping [message...]",
	Short: "Send pings to a server and print the pongs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("server") {
			cfg.ServerAddr = pingServer
		}
		msgs := pingMessages(args, pingCount)

		client, err := node.NewClient(cfg, nil)
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, stop := signalContext()
		defer stop()
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		start := time.Now()
		pongs, err := client.Exchange(ctx, msgs)
		for _, p := range pongs {
			fmt.Fprintf(cmd.OutOrStdout(), "pong %q\n", p)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d/%d pongs in %s\n", len(pongs), len(msgs), time.Since(start).Round(time.Microsecond))
		return nil
	},
}

func init() {
	pingCmd.Flags().StringVar(&pingServer, "server", "", "server QUIC address")
	pingCmd.Flags().IntVarP(&pingCount, "count", "n", 1, "pings to send when no messages are given")
	pingCmd.Flags().DurationVar(&pingTimeout, "timeout", 10*time.Second, "overall exchange timeout")
}

func pingMessages(args []string, count int) []string {
	if len(args) > 0 {
		return args
	}
	count = max(count, 1)
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("ping %d", i+1)
	}
	return out
}
