package cmd

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archives"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/helpers"
)

var extractOutputFlag string

var extractCmd = &cobra.Command{
	Use:   "extract ARCHIVE",
	Short: "Unpack a downloaded product archive",
	Long: `Extracts a downloaded product .zip into a directory. Entry paths are
sanitized so a malformed archive cannot write outside the destination.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	rootCmd.AddCommand(extractCmd)

	extractCmd.Flags().StringVarP(&extractOutputFlag, "output", "o", "", "Destination directory (defaults beside the archive)")
}

func runExtract(cmd *cobra.Command, args []string) error {
	archivePath := args[0]

	destDir := extractOutputFlag
	if destDir == "" {
		base := filepath.Base(archivePath)
		destDir = filepath.Join(filepath.Dir(archivePath), strings.TrimSuffix(base, filepath.Ext(base)))
	}

	extracted, err := extractArchive(cmd.Context(), archivePath, destDir)
	if err != nil {
		return err
	}
	log.Infof("Extracted %d entries to %s", extracted, destDir)
	return nil
}

func extractArchive(ctx context.Context, archivePath, destDir string) (int, error) {
	fsys, err := archives.FileSystem(ctx, archivePath, nil)
	if err != nil {
		return 0, fmt.Errorf("opening archive %s: %w", archivePath, err)
	}
	if closer, ok := fsys.(io.Closer); ok {
		defer closer.Close()
	}

	if err := os.MkdirAll(destDir, 0750); err != nil {
		return 0, fmt.Errorf("creating destination directory %s: %w", destDir, err)
	}

	extracted := 0
	err = fs.WalkDir(fsys, ".", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == "." {
			return nil
		}

		// Entry names come from the archive; strip traversal sequences
		// before joining with the destination.
		safeRel := helpers.SanitizePath(path)
		targetPath := filepath.Join(destDir, safeRel)
		if !strings.HasPrefix(targetPath, filepath.Clean(destDir)+string(filepath.Separator)) {
			log.Warnf("Skipping archive entry outside destination: %s", path)
			return nil
		}

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0750)
		}

		if err := copyArchiveEntry(fsys, path, targetPath); err != nil {
			return err
		}
		extracted++
		return nil
	})
	if err != nil {
		return extracted, fmt.Errorf("extracting %s: %w", archivePath, err)
	}
	return extracted, nil
}

func copyArchiveEntry(fsys fs.FS, path, targetPath string) error {
	srcFile, err := fsys.Open(path)
	if err != nil {
		return fmt.Errorf("opening archive entry %s: %w", path, err)
	}
	defer srcFile.Close()

	if err := os.MkdirAll(filepath.Dir(targetPath), 0750); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}

	dstFile, err := os.OpenFile(targetPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("creating %s: %w", targetPath, err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copying archive entry %s: %w", path, err)
	}
	return nil
}
