package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"go-cdse-download/internal/models"
	"go-cdse-download/internal/paths"
)

// Default values for configuration
const (
	DefaultSavePath            = "downloads"
	DefaultDatabasePath        = "cdse.db"
	DefaultBleveIndexPath      = "cdse.bleve"
	DefaultAPIClientTimeoutSec = 60
	DefaultMaxRetries          = 3
	DefaultInitialRetryDelayMs = 1000
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultConfigFilePath      = "config.toml"

	DefaultDownloadConcurrency      = 4
	DefaultDownloadClientTimeoutSec = 900
	DefaultDownloadVerifyChecksum   = false
	DefaultDownloadSaveQuicklooks   = false
	DefaultDownloadOverwrite        = false
	DefaultDownloadParallel         = false
)

// Valid tags accepted inside Download.PathPattern.
var validPathTags = map[string]bool{
	"collection": true,
	"year":       true,
	"month":      true,
	"name":       true,
	"uuid":       true,
}

var pathTagRegex = regexp.MustCompile(`\{([^}]+)\}`)

// SetDefaults registers every configuration default with viper. Flags and
// the config file layer on top of these.
func SetDefaults(v *viper.Viper) {
	endpoints := models.DefaultEndpoints()

	v.SetDefault("savepath", DefaultSavePath)
	v.SetDefault("databasepath", DefaultDatabasePath)
	v.SetDefault("bleveindexpath", DefaultBleveIndexPath)
	v.SetDefault("loglevel", DefaultLogLevel)
	v.SetDefault("logformat", DefaultLogFormat)
	v.SetDefault("apiclienttimeoutsec", DefaultAPIClientTimeoutSec)
	v.SetDefault("maxretries", DefaultMaxRetries)
	v.SetDefault("initialretrydelayms", DefaultInitialRetryDelayMs)
	v.SetDefault("logapirequests", false)

	v.SetDefault("endpoints.tokenurl", endpoints.TokenURL)
	v.SetDefault("endpoints.stacurl", endpoints.StacURL)
	v.SetDefault("endpoints.odataurl", endpoints.ODataURL)
	v.SetDefault("endpoints.downloadurl", endpoints.DownloadURL)
	v.SetDefault("endpoints.quicklookbases", endpoints.QuicklookBases)

	v.SetDefault("download.concurrency", DefaultDownloadConcurrency)
	v.SetDefault("download.pathpattern", paths.DefaultPattern)
	v.SetDefault("download.clienttimeoutsec", DefaultDownloadClientTimeoutSec)
	v.SetDefault("download.verifychecksum", DefaultDownloadVerifyChecksum)
	v.SetDefault("download.savequicklooks", DefaultDownloadSaveQuicklooks)
	v.SetDefault("download.overwrite", DefaultDownloadOverwrite)
	v.SetDefault("download.parallel", DefaultDownloadParallel)
}

// Load unmarshals the effective viper state into a Config, pulls credentials
// from a .env file or the environment when the config file has none, and
// validates the result.
func Load(v *viper.Viper) (models.Config, error) {
	// A .env next to the working directory is a convenient home for
	// credentials; absence is not an error.
	if err := godotenv.Load(); err == nil {
		log.Debug("Loaded environment from .env file")
	}

	var cfg models.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return models.Config{}, fmt.Errorf("unmarshalling configuration: %w", err)
	}

	if cfg.ClientID == "" {
		cfg.ClientID = os.Getenv("CDSE_CLIENT_ID")
	}
	if cfg.ClientSecret == "" {
		cfg.ClientSecret = os.Getenv("CDSE_CLIENT_SECRET")
	}

	fillEndpointDefaults(&cfg.Endpoints)

	if err := Validate(cfg); err != nil {
		return models.Config{}, err
	}
	return cfg, nil
}

// fillEndpointDefaults replaces any endpoint left empty by partial config
// files with the production default.
func fillEndpointDefaults(e *models.Endpoints) {
	defaults := models.DefaultEndpoints()
	if e.TokenURL == "" {
		e.TokenURL = defaults.TokenURL
	}
	if e.StacURL == "" {
		e.StacURL = defaults.StacURL
	}
	if e.ODataURL == "" {
		e.ODataURL = defaults.ODataURL
	}
	if e.DownloadURL == "" {
		e.DownloadURL = defaults.DownloadURL
	}
	if len(e.QuicklookBases) == 0 {
		e.QuicklookBases = defaults.QuicklookBases
	}
}

// Validate checks the loaded configuration for values that would fail at
// runtime. All failures wrap models.ErrValidation.
func Validate(cfg models.Config) error {
	if cfg.SavePath == "" {
		return fmt.Errorf("%w: SavePath must not be empty", models.ErrValidation)
	}
	if cfg.Download.Concurrency < 1 {
		return fmt.Errorf("%w: Download.Concurrency must be at least 1, got %d", models.ErrValidation, cfg.Download.Concurrency)
	}
	if cfg.APIClientTimeoutSec < 1 {
		return fmt.Errorf("%w: ApiClientTimeoutSec must be positive", models.ErrValidation)
	}
	if err := validatePathPattern(cfg.Download.PathPattern); err != nil {
		return err
	}
	return nil
}

func validatePathPattern(pattern string) error {
	if pattern == "" {
		return fmt.Errorf("%w: Download.PathPattern must not be empty", models.ErrValidation)
	}
	if strings.Contains(pattern, "..") {
		return fmt.Errorf("%w: Download.PathPattern must not contain '..'", models.ErrValidation)
	}
	for _, match := range pathTagRegex.FindAllStringSubmatch(pattern, -1) {
		if !validPathTags[match[1]] {
			return fmt.Errorf("%w: unknown tag {%s} in Download.PathPattern", models.ErrValidation, match[1])
		}
	}
	return nil
}
