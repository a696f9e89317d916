package main

import (
	"github.com/danmuck/msgwire/internal/node"
	"github.com/spf13/cobra"
)

var (
	serveListen string
	serveAdmin  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the ping/pong echo server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("listen") {
			cfg.ListenAddr = serveListen
		}
		if cmd.Flags().Changed("admin") {
			cfg.AdminAddr = serveAdmin
		}
		s, err := node.NewServer(cfg)
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()
		return s.Run(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "QUIC listen address")
	serveCmd.Flags().StringVar(&serveAdmin, "admin", "", "admin HTTP listen address")
}
