package helpers

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go-cdse-download/internal/models"
)

func TestConvertToSlug(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple string", "Hello World", "hello_world"},
		{"already lowercase", "hello world", "hello_world"},
		{"with numbers", "Sentinel V2.0", "sentinel_v2.0"},
		{"with colons", "S2: Level 2A", "s2-level_2a"},
		{"special characters removed", "Test@Product#With$Chars", "testproductwithchars"},
		{"multiple spaces", "Hello   World", "hello_world"},
		{"underscores preserved", "test_product_name", "test_product_name"},
		{"dashes preserved", "my-cool-product", "my-cool-product"},
		{"leading/trailing separators removed", "__test__", "test"},
		{"empty string", "", ""},
		{"only special chars", "@#$%^&*()", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ConvertToSlug(tt.input); got != tt.expected {
				t.Errorf("ConvertToSlug(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestBytesToSize(t *testing.T) {
	tests := []struct {
		name     string
		bytes    uint64
		expected string
	}{
		{"below one kilobyte", 500, "500.00 B"},
		{"one kilobyte", 1024, "1.00 KB"},
		{"one megabyte", 1024 * 1024, "1.00 MB"},
		{"one gigabyte", 1073741824, "1.00 GB"},
		{"one terabyte", 1024 * 1024 * 1024 * 1024, "1.00 TB"},
		{"fractional megabytes", 1536 * 1024, "1.50 MB"},
		{"zero", 0, "0.00 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := BytesToSize(tt.bytes); got != tt.expected {
				t.Errorf("BytesToSize(%d) = %q, want %q", tt.bytes, got, tt.expected)
			}
		})
	}
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple path", "folder/file.txt", "folder/file.txt"},
		{"path with dots", "folder/../other/file.txt", "other/file.txt"},
		{"path traversal attempt", "../../etc/passwd", "etc/passwd"},
		{"absolute path", "/absolute/path/file.txt", "absolute/path/file.txt"},
		{"current directory", "./file.txt", "file.txt"},
		{"complex traversal", "a/b/../c/../d", "a/d"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizePath(tt.input); got != tt.expected {
				t.Errorf("SanitizePath(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestGetExtensionFromMimeType(t *testing.T) {
	tests := []struct {
		name        string
		mimeType    string
		expectedExt string
		expectedOk  bool
	}{
		{"jpeg", "image/jpeg", ".jpeg", true},
		{"png", "image/png", ".png", true},
		{"tiff", "image/tiff", ".tif", true},
		{"zip", "application/zip", ".zip", true},
		{"unknown type", "application/octet-stream", "", false},
		{"mime with params", "image/jpeg; charset=utf-8", ".jpeg", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ext, ok := GetExtensionFromMimeType(tt.mimeType)
			if ext != tt.expectedExt || ok != tt.expectedOk {
				t.Errorf("GetExtensionFromMimeType(%q) = (%q, %v), want (%q, %v)",
					tt.mimeType, ext, ok, tt.expectedExt, tt.expectedOk)
			}
		})
	}
}

func TestCheckAndMakeDir(t *testing.T) {
	origDir, err := os.Getwd()
	if err != nil {
		t.Fatalf("Failed to get current directory: %v", err)
	}
	tempDir := t.TempDir()
	if err := os.Chdir(tempDir); err != nil {
		t.Fatalf("Failed to change to temp directory: %v", err)
	}
	defer os.Chdir(origDir)

	tests := []struct {
		name string
		dir  string
	}{
		{"create new directory", "new_dir"},
		{"create nested directory", "nested/path/here"},
		{"existing directory", "."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !CheckAndMakeDir(tt.dir) {
				t.Errorf("CheckAndMakeDir(%q) = false, want true", tt.dir)
			}
			if tt.dir != "." {
				if _, err := os.Stat(filepath.Join(tempDir, tt.dir)); os.IsNotExist(err) {
					t.Errorf("Directory %q was not created", tt.dir)
				}
			}
		})
	}
}

func TestCounterWriter(t *testing.T) {
	var buf bytes.Buffer
	var reported []uint64
	cw := &CounterWriter{Writer: &buf, OnWrite: func(total uint64) { reported = append(reported, total) }}

	data := []byte("Hello, World!")
	n, err := cw.Write(data)
	if err != nil {
		t.Errorf("CounterWriter.Write() error = %v", err)
	}
	if n != len(data) {
		t.Errorf("CounterWriter.Write() wrote %d bytes, want %d", n, len(data))
	}
	if cw.Total != uint64(len(data)) {
		t.Errorf("CounterWriter.Total = %d, want %d", cw.Total, len(data))
	}

	more := []byte(" More data!")
	if _, err := cw.Write(more); err != nil {
		t.Errorf("CounterWriter.Write() second error = %v", err)
	}
	want := uint64(len(data) + len(more))
	if cw.Total != want {
		t.Errorf("CounterWriter.Total = %d, want %d", cw.Total, want)
	}
	if len(reported) != 2 || reported[1] != want {
		t.Errorf("OnWrite totals = %v, want final %d", reported, want)
	}
	if buf.String() != "Hello, World! More data!" {
		t.Errorf("Buffer contents = %q", buf.String())
	}
}

func TestFileChecksum(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test_file.txt")
	if err := os.WriteFile(testFile, []byte("Hello, World!"), 0644); err != nil {
		t.Fatalf("Failed to create test file: %v", err)
	}

	// Known digests for "Hello, World!".
	tests := []struct {
		algorithm string
		expected  string
	}{
		{"MD5", "65a8e27d8879283831b664bd8b7f0ad4"},
		{"SHA256", "dffd6021bb2bd5b0af676290809ec3a53191dd81c7f70a4b28688a362182986f"},
	}
	for _, tt := range tests {
		t.Run(tt.algorithm, func(t *testing.T) {
			got, err := FileChecksum(testFile, tt.algorithm)
			if err != nil {
				t.Fatalf("FileChecksum failed: %v", err)
			}
			if got != tt.expected {
				t.Errorf("FileChecksum = %s, want %s", got, tt.expected)
			}
		})
	}

	t.Run("unsupported algorithm", func(t *testing.T) {
		if _, err := FileChecksum(testFile, "CRC32"); err == nil {
			t.Error("expected error for unsupported algorithm")
		}
	})
}

func TestVerifyChecksumCaseInsensitive(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test_file.txt")
	if err := os.WriteFile(testFile, []byte("Hello, World!"), 0644); err != nil {
		t.Fatal(err)
	}

	upper := strings.ToUpper("65a8e27d8879283831b664bd8b7f0ad4")
	match, err := VerifyChecksum(testFile, models.Checksum{Algorithm: "MD5", Value: upper})
	if err != nil {
		t.Fatalf("VerifyChecksum failed: %v", err)
	}
	if !match {
		t.Error("upper-case digest should match")
	}

	match, err = VerifyChecksum(testFile, models.Checksum{Algorithm: "MD5", Value: "deadbeef"})
	if err != nil {
		t.Fatalf("VerifyChecksum failed: %v", err)
	}
	if match {
		t.Error("wrong digest should not match")
	}
}

func TestCheckHash(t *testing.T) {
	tempDir := t.TempDir()
	testFile := filepath.Join(tempDir, "test_file.txt")
	if err := os.WriteFile(testFile, []byte("Hello, World!"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Run("no checksums provided", func(t *testing.T) {
		if CheckHash(testFile, models.ChecksumList{}) {
			t.Error("CheckHash with no checksums should return false")
		}
	})

	t.Run("nonexistent file", func(t *testing.T) {
		if CheckHash(filepath.Join(tempDir, "missing.txt"), models.ChecksumList{{Algorithm: "MD5", Value: "abc"}}) {
			t.Error("CheckHash with nonexistent file should return false")
		}
	})

	t.Run("matching md5", func(t *testing.T) {
		list := models.ChecksumList{{Algorithm: "MD5", Value: "65a8e27d8879283831b664bd8b7f0ad4"}}
		if !CheckHash(testFile, list) {
			t.Error("CheckHash should match the known MD5")
		}
	})
}
