package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go-cdse-download/internal/models"
)

// batchServer serves /ok/* with a payload and fails /bad/* with a 500.
func batchServer() *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/bad/") {
			http.Error(w, "broken", http.StatusInternalServerError)
			return
		}
		fmt.Fprintf(w, "payload for %s", r.URL.Path)
	}))
}

func makeJobs(t *testing.T, serverURL, dir string, names []string, bad map[string]bool) []Job {
	t.Helper()
	jobs := make([]Job, 0, len(names))
	for _, name := range names {
		route := "/ok/"
		if bad[name] {
			route = "/bad/"
		}
		jobs = append(jobs, Job{
			Product:    models.Product{ID: name, Name: name},
			URL:        serverURL + route + name,
			TargetPath: filepath.Join(dir, name+".zip"),
		})
	}
	return jobs
}

func TestDownloadAllContinuesPastFailures(t *testing.T) {
	server := batchServer()
	defer server.Close()

	dir := t.TempDir()
	names := []string{"P1", "P2", "P3", "P4"}
	jobs := makeJobs(t, server.URL, dir, names, map[string]bool{"P2": true})

	d := newTestDownloader()
	batch := d.DownloadAll(context.Background(), jobs, FetchOptions{})

	if len(batch.Results) != 4 {
		t.Fatalf("got %d results, want 4", len(batch.Results))
	}
	if batch.Succeeded() != 3 {
		t.Errorf("succeeded = %d, want 3", batch.Succeeded())
	}
	if batch.Failed() != 1 {
		t.Errorf("failed = %d, want 1", batch.Failed())
	}
	for _, r := range batch.Results {
		if r.Product.Name == "P2" {
			if r.Err == nil {
				t.Error("P2 should have failed")
			} else if !strings.Contains(r.Err.Error(), "P2") {
				t.Errorf("failure should carry the product name, got %v", r.Err)
			}
		} else if r.Err != nil {
			t.Errorf("%s failed unexpectedly: %v", r.Product.Name, r.Err)
		}
	}
}

func TestDownloadAllParallelWorkerValidation(t *testing.T) {
	d := newTestDownloader()
	_, err := d.DownloadAllParallel(context.Background(), nil, FetchOptions{}, 0, nil)
	if !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for 0 workers, got %v", err)
	}
	if _, err := d.DownloadQuicklooks(context.Background(), nil, -1); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected ErrValidation for -1 workers, got %v", err)
	}
}

func TestDownloadAllParallelAggregateProgress(t *testing.T) {
	server := batchServer()
	defer server.Close()

	dir := t.TempDir()
	names := []string{"A", "B", "C", "D", "E", "F"}
	jobs := makeJobs(t, server.URL, dir, names, map[string]bool{"C": true, "E": true})

	var (
		mu      sync.Mutex
		updates []int
	)
	onProgress := func(completed, total int) {
		mu.Lock()
		defer mu.Unlock()
		if total != len(names) {
			t.Errorf("total = %d, want %d", total, len(names))
		}
		updates = append(updates, completed)
	}

	d := newTestDownloader()
	batch, err := d.DownloadAllParallel(context.Background(), jobs, FetchOptions{}, DefaultWorkers, onProgress)
	if err != nil {
		t.Fatalf("DownloadAllParallel failed: %v", err)
	}
	if len(batch.Results) != len(names) {
		t.Fatalf("got %d results, want %d", len(batch.Results), len(names))
	}
	if batch.Succeeded() != 4 || batch.Failed() != 2 {
		t.Errorf("succeeded/failed = %d/%d, want 4/2", batch.Succeeded(), batch.Failed())
	}
	if len(updates) != len(names) {
		t.Errorf("progress fired %d times, want %d", len(updates), len(names))
	}
	seen := make(map[int]bool)
	for _, u := range updates {
		if u < 1 || u > len(names) || seen[u] {
			t.Errorf("aggregate counts not unique/monotone: %v", updates)
			break
		}
		seen[u] = true
	}
}

func TestDownloadQuicklooksParallel(t *testing.T) {
	image := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte{0xFF, 0xD8})
	}))
	defer image.Close()
	missing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusNotFound)
	}))
	defer missing.Close()

	dir := t.TempDir()
	jobs := []QuicklookJob{
		{Product: models.Product{Name: "Q1"}, URLs: []string{image.URL}, Dir: dir},
		{Product: models.Product{Name: "Q2"}, URLs: []string{missing.URL}, Dir: dir},
		{Product: models.Product{Name: "Q3"}, URLs: []string{missing.URL, image.URL}, Dir: dir},
	}

	d := newTestDownloader()
	results, err := d.DownloadQuicklooks(context.Background(), jobs, 2)
	if err != nil {
		t.Fatalf("DownloadQuicklooks failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	available := 0
	for _, r := range results {
		if r.Available {
			available++
			if r.Err != nil {
				t.Errorf("%s errored: %v", r.Product.Name, r.Err)
			}
			continue
		}
		if r.Product.Name != "Q2" {
			t.Errorf("%s should have found a preview", r.Product.Name)
		}
		if !errors.Is(r.Err, ErrQuicklookUnavailable) {
			t.Errorf("%s: expected ErrQuicklookUnavailable, got %v", r.Product.Name, r.Err)
		}
	}
	if available != 2 {
		t.Errorf("available = %d, want 2", available)
	}
}
