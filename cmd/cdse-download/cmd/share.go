package cmd

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/anacrolix/torrent/bencode"
	"github.com/anacrolix/torrent/metainfo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/helpers"
)

var (
	shareTrackersFlag  []string
	shareOutputFlag    string
	shareMagnetFlag    bool
	shareOverwriteFlag bool
)

var shareCmd = &cobra.Command{
	Use:   "share PATH",
	Short: "Generate a .torrent file for a downloaded archive",
	Long: `Creates a .torrent file (and optionally a magnet link) for a downloaded
product archive or directory, so large scenes can be shared peer to peer
instead of re-downloaded from the service.`,
	Args: cobra.ExactArgs(1),
	RunE: runShare,
}

func init() {
	rootCmd.AddCommand(shareCmd)

	shareCmd.Flags().StringSliceVar(&shareTrackersFlag, "tracker", nil, "Tracker announce URL (repeatable)")
	shareCmd.Flags().StringVarP(&shareOutputFlag, "output", "o", "", "Directory for the .torrent file (defaults beside the source)")
	shareCmd.Flags().BoolVar(&shareMagnetFlag, "magnet", false, "Also write a magnet link file")
	shareCmd.Flags().BoolVar(&shareOverwriteFlag, "overwrite", false, "Overwrite an existing .torrent file")
}

func runShare(cmd *cobra.Command, args []string) error {
	sourcePath := args[0]
	if _, err := os.Stat(sourcePath); err != nil {
		return fmt.Errorf("cannot access %s: %w", sourcePath, err)
	}

	outDir := shareOutputFlag
	if outDir == "" {
		outDir = filepath.Dir(sourcePath)
	}
	outPath := filepath.Join(outDir, filepath.Base(sourcePath)+".torrent")

	if !shareOverwriteFlag {
		if _, err := os.Stat(outPath); err == nil {
			log.Infof("Torrent file already exists, skipping: %s", outPath)
			return nil
		}
	}

	mi, info, err := buildTorrentMetainfo(sourcePath, shareTrackersFlag)
	if err != nil {
		return err
	}
	if err := writeTorrentFile(outPath, mi); err != nil {
		return err
	}
	log.Infof("Wrote %s", outPath)

	magnetURI := buildMagnetURI(mi, info)
	fmt.Println(magnetURI)

	if shareMagnetFlag {
		magnetPath := strings.TrimSuffix(outPath, ".torrent") + "-magnet.txt"
		if err := os.WriteFile(magnetPath, []byte(magnetURI+"\n"), 0600); err != nil {
			return fmt.Errorf("writing magnet file %s: %w", magnetPath, err)
		}
		log.Infof("Wrote %s", magnetPath)
	}
	return nil
}

// buildTorrentMetainfo assembles the metainfo for a file or directory.
func buildTorrentMetainfo(sourcePath string, trackers []string) (*metainfo.MetaInfo, metainfo.Info, error) {
	mi := metainfo.MetaInfo{}

	validTrackers := validTrackerURLs(trackers)
	if len(validTrackers) > 0 {
		mi.Announce = validTrackers[0]
		mi.AnnounceList = [][]string{validTrackers}
	}

	mi.CreatedBy = "cdse-download"
	mi.CreationDate = time.Now().Unix()

	const pieceLength = 512 * 1024
	info := metainfo.Info{
		PieceLength: pieceLength,
		Name:        filepath.Base(sourcePath),
	}
	if err := info.BuildFromFilePath(sourcePath); err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("building torrent info from %s: %w", sourcePath, err)
	}
	if len(info.Files) == 0 && info.Length == 0 {
		return nil, metainfo.Info{}, fmt.Errorf("no files found under %s", sourcePath)
	}

	infoBytes, err := bencode.Marshal(info)
	if err != nil {
		return nil, metainfo.Info{}, fmt.Errorf("marshaling torrent info: %w", err)
	}
	mi.InfoBytes = infoBytes

	return &mi, info, nil
}

// validTrackerURLs keeps only http, https and udp announce URLs.
func validTrackerURLs(trackers []string) []string {
	valid := make([]string, 0, len(trackers))
	for _, tracker := range trackers {
		parsed, err := url.Parse(tracker)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https" && parsed.Scheme != "udp") {
			log.Warnf("Skipping invalid tracker URL: %s", tracker)
			continue
		}
		valid = append(valid, tracker)
	}
	return valid
}

func writeTorrentFile(outPath string, mi *metainfo.MetaInfo) error {
	f, err := os.Create(helpers.SanitizePath(outPath))
	if err != nil {
		return fmt.Errorf("creating torrent file %s: %w", outPath, err)
	}
	defer f.Close()

	if err := mi.Write(f); err != nil {
		if removeErr := os.Remove(outPath); removeErr != nil && !os.IsNotExist(removeErr) {
			log.WithError(removeErr).Warnf("Failed to remove partial torrent file %s", outPath)
		}
		return fmt.Errorf("writing torrent file %s: %w", outPath, err)
	}
	return nil
}

func buildMagnetURI(mi *metainfo.MetaInfo, info metainfo.Info) string {
	infoHash := mi.HashInfoBytes()
	parts := []string{
		fmt.Sprintf("magnet:?xt=urn:btih:%s", infoHash.HexString()),
		fmt.Sprintf("dn=%s", url.QueryEscape(info.Name)),
	}
	for _, tier := range mi.AnnounceList {
		for _, tracker := range tier {
			parts = append(parts, fmt.Sprintf("tr=%s", url.QueryEscape(tracker)))
		}
	}
	return strings.Join(parts, "&")
}
