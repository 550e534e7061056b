package cmd

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go-cdse-download/internal/api"
	"go-cdse-download/internal/auth"
	"go-cdse-download/internal/downloader"
	"go-cdse-download/internal/models"
	"go-cdse-download/internal/store"
)

// newAuthority builds the token authority from the loaded credentials. The
// constructor falls back to CDSE_CLIENT_ID / CDSE_CLIENT_SECRET itself.
func newAuthority(cfg models.Config) (*auth.TokenAuthority, error) {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(cfg.APIClientTimeoutSec) * time.Second,
	}
	return auth.NewTokenAuthority(cfg.ClientID, cfg.ClientSecret, cfg.Endpoints.TokenURL, httpClient)
}

// newApiClient wires an authority and the shared transport into a catalog
// client. Commands build one authority and pass it to every consumer, so a
// single token is refreshed for the whole run.
func newApiClient(cfg models.Config, authority *auth.TokenAuthority) *api.Client {
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   time.Duration(cfg.APIClientTimeoutSec) * time.Second,
	}
	return api.NewClient(authority, httpClient, cfg)
}

// newFileDownloader builds the streaming downloader with the long-lived
// client timeout used for large product archives.
func newFileDownloader(cfg models.Config, authority *auth.TokenAuthority) *downloader.Downloader {
	timeout := time.Duration(cfg.Download.ClientTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 15 * time.Minute
	}
	httpClient := &http.Client{
		Transport: globalHttpTransport,
		Timeout:   timeout,
	}
	return downloader.NewDownloader(httpClient, authority)
}

// openStore opens the state store from the configured path.
func openStore(cfg models.Config) (*store.Store, error) {
	if cfg.DatabasePath == "" {
		return nil, fmt.Errorf("database path is not configured")
	}
	return store.Open(cfg.DatabasePath)
}

// parseBBox parses "minLon,minLat,maxLon,maxLat" into a 4-element slice.
func parseBBox(s string) ([]float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return nil, fmt.Errorf("bounding box must have 4 comma-separated values, got %d", len(parts))
	}
	bbox := make([]float64, 4)
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid bounding box value %q: %w", part, err)
		}
		bbox[i] = v
	}
	return bbox, nil
}

// parsePoint parses "lon,lat" into a coordinate pair.
func parsePoint(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("point must be 'lon,lat', got %q", s)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", parts[0], err)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", parts[1], err)
	}
	return lon, lat, nil
}
