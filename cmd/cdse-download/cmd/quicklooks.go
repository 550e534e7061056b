package cmd

import (
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/downloader"
)

var (
	quicklooksOutputFlag  string
	quicklooksWorkersFlag int
)

var quicklooksCmd = &cobra.Command{
	Use:   "quicklooks PRODUCT_NAME...",
	Short: "Download quicklook previews without the full archives",
	Long: `Fetches the small preview images for the named products. Products
without a published preview are reported but do not fail the run.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuicklooks,
}

func init() {
	rootCmd.AddCommand(quicklooksCmd)

	quicklooksCmd.Flags().StringVarP(&quicklooksOutputFlag, "output", "o", "", "Directory for previews (overrides SavePath)")
	quicklooksCmd.Flags().IntVar(&quicklooksWorkersFlag, "workers", downloader.DefaultWorkers, "Concurrent preview downloads")
}

func runQuicklooks(cmd *cobra.Command, args []string) error {
	authority, err := newAuthority(globalConfig)
	if err != nil {
		return err
	}
	client := newApiClient(globalConfig, authority)
	fileDownloader := newFileDownloader(globalConfig, authority)

	outputDir := globalConfig.SavePath
	if quicklooksOutputFlag != "" {
		outputDir = quicklooksOutputFlag
	}

	ctx := cmd.Context()
	var jobs []downloader.QuicklookJob
	for _, name := range args {
		p, found, err := client.GetProductInfo(ctx, name)
		if err != nil {
			return err
		}
		if !found {
			log.Warnf("Product not found in catalog, skipping: %s", name)
			continue
		}
		jobs = append(jobs, downloader.QuicklookJob{
			Product: p,
			URLs:    client.QuicklookURLs(p.ID),
			Dir:     outputDir,
		})
	}
	if len(jobs) == 0 {
		log.Info("Nothing to fetch")
		return nil
	}

	results, err := fileDownloader.DownloadQuicklooks(ctx, jobs, quicklooksWorkersFlag)
	if err != nil {
		return err
	}

	fetched, missing, failed := 0, 0, 0
	for _, r := range results {
		switch {
		case errors.Is(r.Err, downloader.ErrQuicklookUnavailable):
			missing++
			log.Infof("No quicklook available for %s", r.Product.Name)
		case r.Err != nil:
			failed++
		case r.Available:
			fetched++
			log.Infof("Saved %s", r.Path)
		}
	}
	fmt.Printf("Quicklooks: %d saved, %d unavailable, %d failed\n", fetched, missing, failed)
	if failed > 0 {
		return fmt.Errorf("%d quicklook downloads failed", failed)
	}
	return nil
}
