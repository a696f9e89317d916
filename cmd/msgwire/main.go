package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/msgwire/internal/logging"
	"github.com/danmuck/msgwire/internal/node"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "msgwire",
	Short: "Typed messages over multiplexed QUIC streams",
	Long: `msgwire frames registered message types onto QUIC streams.
"serve" runs a ping/pong echo server; "ping" dials one and prints the replies.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.ConfigureRuntime()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a TOML config file")
	rootCmd.AddCommand(serveCmd, pingCmd)
}

// loadConfig reads --config when given and applies its log level.
func loadConfig() (node.Config, error) {
	if configPath == "" {
		return node.DefaultConfig(), nil
	}
	cfg, level, err := loadNodeConfig(configPath)
	if err != nil {
		return node.Config{}, err
	}
	if level != nil {
		zerolog.SetGlobalLevel(*level)
	}
	return cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("msgwire failed")
		fmt.Fprintf(os.Stderr, "msgwire: %v\n", err)
		os.Exit(1)
	}
}
