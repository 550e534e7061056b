package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-cdse-download/internal/api"
	"go-cdse-download/internal/config"
	"go-cdse-download/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

var (
	logLevel  string
	logFormat string
)

// logApiFlag holds the value of the --log-api flag
var logApiFlag bool

// savePathFlag holds the value of the --save-path flag
var savePathFlag string

// apiTimeoutFlag holds the value of the --api-timeout flag
var apiTimeoutFlag int

// globalConfig holds the loaded configuration
var globalConfig models.Config

// globalHttpTransport holds the globally configured HTTP transport (base or logging-wrapped)
var globalHttpTransport http.RoundTripper

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "cdse-download",
	Short: "A tool to search and download Copernicus satellite products",
	Long: `CDSE Downloader searches the Copernicus Data Space Ecosystem catalog
and downloads Sentinel products with checksum verification and resume-safe
state tracking.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer api.CloseAllLoggingTransports()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentPreRunE = loadGlobalConfig

	viper.SetConfigName("config")
	viper.SetConfigType("toml")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Configuration file path (default is ./config.toml or ~/.config/cdse-download/config.toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Logging level (trace, debug, info, warn, error, fatal, panic)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Logging format (text, json)")
	rootCmd.PersistentFlags().BoolVar(&logApiFlag, "log-api", false, "Log API requests/responses to api.log (overrides config)")
	rootCmd.PersistentFlags().StringVar(&savePathFlag, "save-path", "", "Directory to save products (overrides config)")
	rootCmd.PersistentFlags().IntVar(&apiTimeoutFlag, "api-timeout", -1, "Timeout for API HTTP client in seconds (overrides config, -1 uses config default)")

	_ = viper.BindPFlag("logapirequests", rootCmd.PersistentFlags().Lookup("log-api"))
	_ = viper.BindPFlag("savepath", rootCmd.PersistentFlags().Lookup("save-path"))
	_ = viper.BindPFlag("apiclienttimeoutsec", rootCmd.PersistentFlags().Lookup("api-timeout"))

	config.SetDefaults(viper.GetViper())
}

// initLogging configures logrus from the --log-level and --log-format flags.
func initLogging() {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Warnf("Invalid log level '%s', using 'info'", logLevel)
		level = log.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(logFormat, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
}

// loadGlobalConfig loads the configuration, applies flag overrides and sets up
// the global HTTP transport based on logging settings.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	initLogging()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config", "cdse-download"))
		}
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("CDSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Debug("No config file found, using defaults and flags")
		} else {
			return fmt.Errorf("reading config file: %w", err)
		}
	} else {
		log.Infof("Using config file: %s", viper.ConfigFileUsed())
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}
	globalConfig = cfg

	// Flags win over the config file for log settings.
	if !rootCmd.PersistentFlags().Changed("log-level") && cfg.LogLevel != "" {
		logLevel = cfg.LogLevel
	}
	if !rootCmd.PersistentFlags().Changed("log-format") && cfg.LogFormat != "" {
		logFormat = cfg.LogFormat
	}
	initLogging()

	globalHttpTransport = http.DefaultTransport
	if viper.GetBool("logapirequests") {
		logFilePath := "api.log"
		if globalConfig.SavePath != "" {
			if _, statErr := os.Stat(globalConfig.SavePath); statErr == nil {
				logFilePath = filepath.Join(globalConfig.SavePath, logFilePath)
			}
		}
		log.Infof("API logging to file: %s", logFilePath)
		loggingTransport, err := api.NewLoggingTransport(http.DefaultTransport, logFilePath)
		if err != nil {
			log.WithError(err).Error("Failed to initialize API logging transport, logging disabled.")
		} else {
			globalHttpTransport = loggingTransport
		}
	}

	return nil
}
