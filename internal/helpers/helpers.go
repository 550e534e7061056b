package helpers

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"go-cdse-download/internal/models"
)

// hashBlockSize is the read size used when digesting files.
const hashBlockSize = 8 * 1024

var (
	whitespaceRe = regexp.MustCompile(`\s+`)
	slugCharsRe  = regexp.MustCompile(`[^a-z0-9._-]`)
)

// ConvertToSlug lowercases a string and reduces it to filesystem-safe
// characters. Spaces become underscores, colons become dashes, everything
// else outside [a-z0-9._-] is dropped.
func ConvertToSlug(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ":", "-")
	s = whitespaceRe.ReplaceAllString(s, "_")
	s = slugCharsRe.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "_-", "-")
	s = strings.ReplaceAll(s, "-_", "-")
	return strings.Trim(s, "_-")
}

// SanitizePath cleans a relative path and strips any leading separators or
// parent-directory escapes so it can never climb out of the base directory.
func SanitizePath(p string) string {
	p = filepath.ToSlash(filepath.Clean(p))
	for {
		switch {
		case strings.HasPrefix(p, "../"):
			p = strings.TrimPrefix(p, "../")
		case strings.HasPrefix(p, "/"):
			p = strings.TrimPrefix(p, "/")
		case p == "..":
			return ""
		default:
			return p
		}
	}
}

// CheckAndMakeDir ensures a directory exists, creating it if needed.
// Returns false when creation fails.
func CheckAndMakeDir(dir string) bool {
	dir = SanitizePath(dir)
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		log.WithError(err).Errorf("Failed to create directory %s", dir)
		return false
	}
	return true
}

// BytesToSize renders a byte count as a human-readable string with two
// decimals, e.g. "500.00 B", "1.00 KB", "1.00 GB".
func BytesToSize(b uint64) string {
	const unit = 1024
	suffixes := []string{"B", "KB", "MB", "GB", "TB"}
	size := float64(b)
	i := 0
	for size >= unit && i < len(suffixes)-1 {
		size /= unit
		i++
	}
	return fmt.Sprintf("%.2f %s", size, suffixes[i])
}

// GetExtensionFromMimeType maps a Content-Type value to a file extension.
// The second return is false for types we do not recognize.
func GetExtensionFromMimeType(mimeType string) (string, bool) {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch mt {
	case "image/jpeg":
		return ".jpeg", true
	case "image/png":
		return ".png", true
	case "image/tiff":
		return ".tif", true
	case "application/zip":
		return ".zip", true
	default:
		return "", false
	}
}

// CounterWriter wraps an io.Writer and counts the bytes passing through it.
// OnWrite, when set, fires after every successful write with the running
// total.
type CounterWriter struct {
	Writer  io.Writer
	Total   uint64
	OnWrite func(total uint64)
}

func (cw *CounterWriter) Write(p []byte) (int, error) {
	n, err := cw.Writer.Write(p)
	cw.Total += uint64(n)
	if err == nil && cw.OnWrite != nil {
		cw.OnWrite(cw.Total)
	}
	return n, err
}

// FileChecksum streams a file through the digest named by algorithm
// (MD5, SHA256 or BLAKE3) in 8 KiB blocks and returns the hex digest.
func FileChecksum(path, algorithm string) (string, error) {
	var h hash.Hash
	switch strings.ToUpper(algorithm) {
	case "MD5":
		h = md5.New()
	case "SHA256":
		h = sha256.New()
	case "BLAKE3":
		h = blake3.New()
	default:
		return "", fmt.Errorf("unsupported checksum algorithm %q", algorithm)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyChecksum digests the file and compares against the expected value
// case-insensitively. The error return is reserved for I/O or algorithm
// failures; a plain mismatch is (false, nil).
func VerifyChecksum(path string, cs models.Checksum) (bool, error) {
	got, err := FileChecksum(path, cs.Algorithm)
	if err != nil {
		return false, err
	}
	match := strings.EqualFold(got, cs.Value)
	if !match {
		log.Debugf("Checksum mismatch for %s: %s expected %s, got %s", path, cs.Algorithm, cs.Value, got)
	}
	return match, nil
}

// CheckHash verifies the file against the preferred entry of a checksum
// list. Returns false when no checksum is present or any comparison fails.
func CheckHash(path string, checksums models.ChecksumList) bool {
	cs, ok := checksums.Preferred()
	if !ok {
		log.Debugf("No checksums available for %s, skipping hash check", path)
		return false
	}
	match, err := VerifyChecksum(path, cs)
	if err != nil {
		log.WithError(err).Warnf("Hash check failed for %s", path)
		return false
	}
	return match
}
