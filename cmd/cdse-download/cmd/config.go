package cmd

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/config"
)

var configInitForceFlag bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file scaffold with the current effective settings",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	RunE:  runConfigShow,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)

	configInitCmd.Flags().BoolVar(&configInitForceFlag, "force", false, "Overwrite an existing config file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := cfgFile
	if path == "" {
		path = config.DefaultConfigFilePath
	}
	if !configInitForceFlag {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	// Never write credentials into the scaffold; they belong in the
	// environment or a .env file.
	cfg := globalConfig
	cfg.ClientID = ""
	cfg.ClientSecret = ""

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("creating config file %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	log.Infof("Wrote config scaffold to %s", path)
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := globalConfig
	if cfg.ClientSecret != "" {
		cfg.ClientSecret = "[redacted]"
	}
	return toml.NewEncoder(os.Stdout).Encode(cfg)
}
