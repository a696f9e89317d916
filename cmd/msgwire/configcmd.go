package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/danmuck/msgwire/internal/node"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

//go:embed ex.config.toml
var configTemplate []byte

var configForce bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate, validate or print configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init <path>",
	Short: "Write the example configuration to path",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := writeTemplate(args[0], configForce); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", args[0])
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <path>",
	Short: "Check a configuration file and its transport security settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadNodeConfig(args[0])
		if err != nil {
			return err
		}
		if err := validateNodeConfig(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "validated %s\n", args[0])
		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration (defaults plus --config)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out, err := renderConfig(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(out)
		return err
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd, configValidateCmd, configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func writeTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, configTemplate, 0o600)
}

// validateNodeConfig checks everything a server or client would reject at
// startup.
func validateNodeConfig(cfg node.Config) error {
	if _, err := node.BuildProtocolNamed(cfg.Codec); err != nil {
		return err
	}
	if err := cfg.Session.ValidateServerTransport(); err != nil {
		return fmt.Errorf("server transport: %w", err)
	}
	if err := cfg.Session.ValidateClientTransport(); err != nil {
		return fmt.Errorf("client transport: %w", err)
	}
	return nil
}

func renderConfig(cfg node.Config) ([]byte, error) {
	return toml.Marshal(toFileConfig(cfg))
}
