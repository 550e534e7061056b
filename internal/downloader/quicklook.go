package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/helpers"
)

// ErrQuicklookUnavailable means every candidate host soft-failed for a
// product's preview. It wraps ErrDownload.
var ErrQuicklookUnavailable = fmt.Errorf("%w: quicklook not available", ErrDownload)

// quicklookExtensions are the filename extensions a saved preview can end
// up with, depending on the Content-Type the host served.
var quicklookExtensions = []string{".jpeg", ".png", ".tif"}

// DownloadQuicklook fetches a small preview image for a product, trying each
// candidate URL in order. A 403, 404, non-image content type or empty body
// counts as "this host doesn't have it" and moves on to the next candidate.
// Exhausting every candidate returns ok=false with ErrQuicklookUnavailable.
func (d *Downloader) DownloadQuicklook(ctx context.Context, dir, productName string, urls []string) (string, bool, error) {
	base := filepath.Join(dir, productName+"_quicklook")
	for _, ext := range quicklookExtensions {
		if fi, err := os.Stat(base + ext); err == nil && fi.Size() > 0 {
			log.Debugf("Quicklook already exists, skipping: %s", base+ext)
			return base + ext, true, nil
		}
	}
	target := base + ".jpeg"
	if !helpers.CheckAndMakeDir(dir) {
		return "", false, fmt.Errorf("%w: cannot create directory %s", ErrFileSystem, dir)
	}

	for _, url := range urls {
		data, ok, err := d.tryQuicklook(ctx, url, &target)
		if err != nil {
			return "", false, err
		}
		if !ok {
			continue
		}
		if err := writeQuicklook(target, data); err != nil {
			return "", false, err
		}
		log.Debugf("Saved quicklook %s (%s)", target, helpers.BytesToSize(uint64(len(data))))
		return target, true, nil
	}

	log.Debugf("No quicklook available for %s on any host", productName)
	return "", false, fmt.Errorf("%w: %s", ErrQuicklookUnavailable, productName)
}

// tryQuicklook fetches one candidate URL. ok=false means a soft failure.
// The target path's extension is corrected from the Content-Type when the
// host serves something other than JPEG.
func (d *Downloader) tryQuicklook(ctx context.Context, url string, target *string) ([]byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("%w: creating request for %s: %w", ErrHttpRequest, url, err)
	}
	if d.auth != nil {
		header, err := d.auth.AuthHeader(ctx)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Authorization", header)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, false, fmt.Errorf("%w: quicklook %s: %w", ErrHttpRequest, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound {
		log.Debugf("Quicklook host answered %d for %s, trying next", resp.StatusCode, url)
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		log.Debugf("Quicklook host answered %d for %s, trying next", resp.StatusCode, url)
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		log.Debugf("Quicklook host served %s for %s, trying next", contentType, url)
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, nil
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, fmt.Errorf("%w: reading quicklook body from %s: %w", ErrHttpRequest, url, err)
	}
	if len(data) == 0 {
		log.Debugf("Quicklook host served an empty body for %s, trying next", url)
		return nil, false, nil
	}

	if ext, ok := helpers.GetExtensionFromMimeType(contentType); ok && ext != ".jpeg" {
		*target = strings.TrimSuffix(*target, filepath.Ext(*target)) + ext
	}
	return data, true, nil
}

func writeQuicklook(target string, data []byte) error {
	tmpPath := target + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("%w: writing quicklook %s: %w", ErrFileSystem, tmpPath, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: renaming quicklook into place: %w", ErrFileSystem, err)
	}
	return nil
}
