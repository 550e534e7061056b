package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/helpers"
	"go-cdse-download/internal/models"
)

// ErrDownload is the base error for the download pipeline. The finer
// sentinels below all wrap it, so errors.Is(err, ErrDownload) holds for any
// pipeline failure.
var ErrDownload = errors.New("download failed")

var (
	ErrHashMismatch = fmt.Errorf("%w: hash mismatch", ErrDownload)
	ErrHttpStatus   = fmt.Errorf("%w: unexpected http status", ErrDownload)
	ErrFileSystem   = fmt.Errorf("%w: filesystem error", ErrDownload)
	ErrHttpRequest  = fmt.Errorf("%w: http request failed", ErrDownload)
)

// chunkSize is the read size used when streaming archives to disk.
const chunkSize = 128 * 1024

const (
	defaultClientTimeout = 15 * time.Minute
	defaultMaxRetries    = 3
	defaultRetryDelay    = time.Second
)

// ProgressFunc receives the running byte count after every chunk. total is
// -1 when the server sent no Content-Length.
type ProgressFunc func(downloaded, total int64)

// AuthProvider supplies the Authorization header for download requests.
// Satisfied by auth.TokenAuthority; nil means anonymous requests.
type AuthProvider interface {
	AuthHeader(ctx context.Context) (string, error)
	Invalidate()
}

// FetchOptions controls a single file download.
type FetchOptions struct {
	// Overwrite forces a re-download even when the target already exists.
	Overwrite bool
	// Progress, when set, is called after every chunk written.
	Progress ProgressFunc
	// Checksums to verify against after the transfer. Ignored unless
	// Verify is set; verification is skipped when the list is empty.
	Checksums models.ChecksumList
	Verify    bool
}

// Downloader streams archives to disk through a temp file, verifying
// checksums when asked. Failed transfers never leave a partial file at the
// target path.
type Downloader struct {
	client *http.Client
	auth   AuthProvider

	maxRetries int
	retryDelay time.Duration
	sleep      func(time.Duration)
}

// NewDownloader creates a Downloader. A nil client gets a 15 minute overall
// timeout, sized for multi-gigabyte archives on slow links.
func NewDownloader(client *http.Client, authority AuthProvider) *Downloader {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Downloader{
		client:     client,
		auth:       authority,
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		sleep:      time.Sleep,
	}
}

// DownloadFile downloads url to targetPath. Returns the final path and
// whether the download was skipped because the file already existed.
func (d *Downloader) DownloadFile(ctx context.Context, targetPath, url string, opts FetchOptions) (string, bool, error) {
	if !opts.Overwrite {
		if fi, err := os.Stat(targetPath); err == nil && fi.Size() > 0 {
			log.Infof("File already exists, skipping download: %s", targetPath)
			return targetPath, true, nil
		}
	}

	dir := filepath.Dir(targetPath)
	if !helpers.CheckAndMakeDir(dir) {
		return "", false, fmt.Errorf("%w: cannot create directory %s", ErrFileSystem, dir)
	}

	if err := d.fetchToFile(ctx, url, targetPath, opts.Progress); err != nil {
		return "", false, err
	}

	if opts.Verify {
		if err := d.verifyWithRetry(ctx, targetPath, url, opts); err != nil {
			return "", false, err
		}
	}
	return targetPath, false, nil
}

// verifyWithRetry checks the downloaded file against its expected checksum.
// A mismatch triggers exactly one re-download and re-check; a second
// mismatch removes the file and fails.
func (d *Downloader) verifyWithRetry(ctx context.Context, targetPath, url string, opts FetchOptions) error {
	cs, ok := opts.Checksums.Preferred()
	if !ok {
		log.Debugf("No checksum metadata for %s, skipping verification", targetPath)
		return nil
	}

	match, err := helpers.VerifyChecksum(targetPath, cs)
	if err != nil {
		return fmt.Errorf("%w: verifying %s: %w", ErrFileSystem, targetPath, err)
	}
	if match {
		log.Debugf("%s checksum verified for %s", cs.Algorithm, targetPath)
		return nil
	}

	log.Warnf("%s checksum mismatch for %s, re-downloading once", cs.Algorithm, targetPath)
	if err := os.Remove(targetPath); err != nil {
		return fmt.Errorf("%w: removing corrupt file %s: %w", ErrFileSystem, targetPath, err)
	}
	if err := d.fetchToFile(ctx, url, targetPath, opts.Progress); err != nil {
		return err
	}

	match, err = helpers.VerifyChecksum(targetPath, cs)
	if err != nil {
		return fmt.Errorf("%w: verifying %s: %w", ErrFileSystem, targetPath, err)
	}
	if !match {
		_ = os.Remove(targetPath)
		return fmt.Errorf("%w: %s checksum still wrong for %s after re-download", ErrHashMismatch, cs.Algorithm, targetPath)
	}
	return nil
}

// fetchToFile streams the response body into a temp file beside the target
// and renames it into place on success. Any failure removes the temp file.
func (d *Downloader) fetchToFile(ctx context.Context, url, targetPath string, progress ProgressFunc) error {
	resp, err := d.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	dir := filepath.Dir(targetPath)
	base := filepath.Base(targetPath)
	tmpFile, err := os.CreateTemp(dir, base+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp file in %s: %w", ErrFileSystem, dir, err)
	}
	tmpPath := tmpFile.Name()
	shouldCleanupTemp := true
	defer func() {
		if shouldCleanupTemp {
			if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
				log.WithError(rmErr).Warnf("Failed to remove temporary file %s", tmpPath)
			}
		}
	}()

	total := resp.ContentLength
	counter := &helpers.CounterWriter{Writer: tmpFile}
	if progress != nil {
		counter.OnWrite = func(written uint64) {
			progress(int64(written), total)
		}
	}

	buf := make([]byte, chunkSize)
	written, copyErr := io.CopyBuffer(counter, resp.Body, buf)
	closeErr := tmpFile.Close()
	if copyErr != nil {
		return fmt.Errorf("%w: streaming %s: %w", ErrHttpRequest, url, copyErr)
	}
	if closeErr != nil {
		return fmt.Errorf("%w: closing temp file %s: %w", ErrFileSystem, tmpPath, closeErr)
	}
	if total > 0 && written != total {
		return fmt.Errorf("%w: short body for %s: got %d of %d bytes", ErrHttpRequest, url, written, total)
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		return fmt.Errorf("%w: renaming %s to %s: %w", ErrFileSystem, tmpPath, targetPath, err)
	}
	shouldCleanupTemp = false
	log.Debugf("Downloaded %s (%s)", targetPath, helpers.BytesToSize(uint64(written)))
	return nil
}

// get issues the download request with auth, retrying transient failures
// (429/502/503/504 and connection errors) before any body is consumed.
func (d *Downloader) get(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error
	refreshed := false

	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			delay := d.retryDelay << (attempt - 1)
			log.WithError(lastErr).Warnf("Retrying download of %s (%d/%d) after %s", url, attempt+1, d.maxRetries, delay)
			d.sleep(delay)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: creating request for %s: %w", ErrHttpRequest, url, err)
		}
		if d.auth != nil {
			header, err := d.auth.AuthHeader(ctx)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Authorization", header)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %s: %w", ErrHttpRequest, url, err)
			continue
		}
		if resp.StatusCode == http.StatusOK {
			return resp, nil
		}

		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode == http.StatusUnauthorized && d.auth != nil && !refreshed {
			log.Debug("Download got 401, refreshing token once")
			d.auth.Invalidate()
			refreshed = true
			lastErr = fmt.Errorf("%w: status 401 for %s", ErrHttpStatus, url)
			continue
		}

		lastErr = fmt.Errorf("%w: status %d for %s", ErrHttpStatus, resp.StatusCode, url)
		switch resp.StatusCode {
		case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// retryable
		default:
			return nil, lastErr
		}
	}
	return nil, fmt.Errorf("giving up on %s after %d attempts: %w", url, d.maxRetries, lastErr)
}
