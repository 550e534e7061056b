package api

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/helpers"
)

// Registry of open transports so the CLI can flush them all on exit.
var (
	activeLoggingTransports []*LoggingTransport
	transportsMu            sync.Mutex
)

// LoggingTransport wraps an http.RoundTripper and appends request/response
// dumps to a log file. Authorization headers are redacted before writing;
// the dumps otherwise contain whatever the service sent.
type LoggingTransport struct {
	Transport http.RoundTripper
	logFile   *os.File
	writer    *bufio.Writer
	mu        sync.Mutex
}

// NewLoggingTransport opens logFilePath for appending and returns a
// transport that logs every round trip through it.
func NewLoggingTransport(transport http.RoundTripper, logFilePath string) (*LoggingTransport, error) {
	safePath := helpers.SanitizePath(logFilePath)
	// #nosec G304
	f, err := os.OpenFile(safePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open API log file %s: %w", safePath, err)
	}
	if transport == nil {
		transport = http.DefaultTransport
	}

	lt := &LoggingTransport{
		Transport: transport,
		logFile:   f,
		writer:    bufio.NewWriter(f),
	}

	transportsMu.Lock()
	activeLoggingTransports = append(activeLoggingTransports, lt)
	transportsMu.Unlock()

	return lt, nil
}

// RoundTrip executes a single HTTP transaction, logging details.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()

	dumpReq := req.Clone(req.Context())
	if dumpReq.Header.Get("Authorization") != "" {
		dumpReq.Header.Set("Authorization", "Bearer [redacted]")
	}
	if reqDump, err := httputil.DumpRequestOut(dumpReq, req.Body == nil); err == nil {
		t.mu.Lock()
		t.writeLog(fmt.Sprintf("--- Request (%s) ---\n%s", start.Format(time.RFC3339), string(reqDump)))
		t.mu.Unlock()
	} else {
		log.WithError(err).Error("Failed to dump API request for logging")
	}

	resp, err := t.Transport.RoundTrip(req)
	duration := time.Since(start)

	t.mu.Lock()
	defer t.mu.Unlock()

	if err != nil {
		t.writeLog(fmt.Sprintf("--- Response Error (Duration: %v) ---\n%s", duration, err.Error()))
	} else {
		contentType := resp.Header.Get("Content-Type")
		if strings.HasPrefix(contentType, "application/json") {
			bodyBytes, readErr := io.ReadAll(resp.Body)
			if readErr != nil {
				respDump, _ := httputil.DumpResponse(resp, false)
				t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v) ---\n%s(Body read failed)", duration, string(respDump)))
			} else {
				resp.Body.Close()
				resp.Body = io.NopCloser(bytes.NewReader(bodyBytes))
				respDump, _ := httputil.DumpResponse(resp, false)
				t.writeLog(fmt.Sprintf("--- Response (Duration: %v) ---\n%s%s", duration, string(respDump), string(bodyBytes)))
			}
		} else {
			// Archive and image bodies stay out of the log.
			respDump, _ := httputil.DumpResponse(resp, false)
			t.writeLog(fmt.Sprintf("--- Response Headers (Duration: %v, Type: %s) ---\n%s(Body not logged)", duration, contentType, string(respDump)))
		}
	}

	if flushErr := t.writer.Flush(); flushErr != nil {
		log.WithError(flushErr).Error("Failed to flush API log writer")
	}
	return resp, err
}

func (t *LoggingTransport) writeLog(s string) {
	if _, err := t.writer.WriteString(s + "\n\n"); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing to API log file: %v\n", err)
	}
}

// Close flushes and closes the underlying log file.
func (t *LoggingTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.writer.Flush(); err != nil {
		t.logFile.Close()
		return fmt.Errorf("failed to flush API log buffer: %w", err)
	}
	return t.logFile.Close()
}

// CloseAllLoggingTransports closes every transport opened so far. Called
// once on CLI shutdown.
func CloseAllLoggingTransports() {
	transportsMu.Lock()
	defer transportsMu.Unlock()

	for _, t := range activeLoggingTransports {
		if err := t.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error closing logging transport for %s: %v\n", t.logFile.Name(), err)
		}
	}
	activeLoggingTransports = nil
}
