package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/gosuri/uilive"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/api"
	"go-cdse-download/internal/downloader"
	"go-cdse-download/internal/helpers"
	"go-cdse-download/internal/models"
	"go-cdse-download/internal/paths"
	"go-cdse-download/internal/store"
)

var (
	downloadChecksumFlag  bool
	downloadQuicklookFlag bool
	downloadParallelFlag  bool
	downloadWorkersFlag   int
	downloadOutputFlag    string
	downloadOverwriteFlag bool

	downloadCollectionFlag string
	downloadBBoxFlag       string
	downloadStartFlag      string
	downloadEndFlag        string
	downloadCloudFlag      float64
	downloadLimitFlag      int
)

var downloadCmd = &cobra.Command{
	Use:   "download [PRODUCT_NAME...]",
	Short: "Download products by name or from a catalog search",
	Long: `Downloads product archives. Products are given either as names on the
command line or selected by the same filters the search command accepts.
Every attempt is recorded in the local database.`,
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	downloadCmd.Flags().BoolVar(&downloadChecksumFlag, "checksum", false, "Verify checksums after download")
	downloadCmd.Flags().BoolVar(&downloadQuicklookFlag, "quicklook", false, "Also fetch quicklook previews")
	downloadCmd.Flags().BoolVar(&downloadParallelFlag, "parallel", false, "Download products concurrently")
	downloadCmd.Flags().IntVar(&downloadWorkersFlag, "workers", 0, "Concurrent downloads when --parallel is set (0 uses config)")
	downloadCmd.Flags().StringVarP(&downloadOutputFlag, "output", "o", "", "Base directory for downloads (overrides SavePath)")
	downloadCmd.Flags().BoolVar(&downloadOverwriteFlag, "overwrite", false, "Re-download files that already exist")

	downloadCmd.Flags().StringVarP(&downloadCollectionFlag, "collection", "c", "", "Collection to search when no names are given")
	downloadCmd.Flags().StringVar(&downloadBBoxFlag, "bbox", "", "Bounding box as 'minLon,minLat,maxLon,maxLat'")
	downloadCmd.Flags().StringVar(&downloadStartFlag, "start", "", "Start of the sensing period (YYYY-MM-DD)")
	downloadCmd.Flags().StringVar(&downloadEndFlag, "end", "", "End of the sensing period (YYYY-MM-DD)")
	downloadCmd.Flags().Float64Var(&downloadCloudFlag, "cloud-cover", -1, "Maximum cloud cover percentage (-1 disables the filter)")
	downloadCmd.Flags().IntVar(&downloadLimitFlag, "limit", 0, "Maximum number of search results to download")
}

// gatherProducts turns the command line into a product list, either by OData
// name lookups or by running a catalog search.
func gatherProducts(ctx context.Context, client *api.Client, args []string) ([]models.Product, error) {
	if len(args) > 0 {
		products := make([]models.Product, 0, len(args))
		for _, name := range args {
			p, found, err := client.GetProductInfo(ctx, name)
			if err != nil {
				return nil, err
			}
			if !found {
				log.Warnf("Product not found in catalog, skipping: %s", name)
				continue
			}
			products = append(products, p)
		}
		return products, nil
	}

	if downloadCollectionFlag == "" || downloadBBoxFlag == "" {
		return nil, fmt.Errorf("provide product names or --collection with --bbox")
	}
	bbox, err := parseBBox(downloadBBoxFlag)
	if err != nil {
		return nil, err
	}
	q := models.SearchQuery{
		Collection: downloadCollectionFlag,
		BBox:       bbox,
		StartDate:  downloadStartFlag,
		EndDate:    downloadEndFlag,
		Limit:      downloadLimitFlag,
	}
	if downloadCloudFlag >= 0 {
		q.CloudCoverMax = &downloadCloudFlag
	}
	return client.SearchProducts(ctx, q)
}

// buildJobs resolves every product to a download URL and target path,
// recording unresolvable products in the database as errors.
func buildJobs(ctx context.Context, client *api.Client, db *store.Store, products []models.Product, baseDir string) []downloader.Job {
	jobs := make([]downloader.Job, 0, len(products))
	for _, p := range products {
		res, err := client.ResolveAsset(ctx, p)
		if err != nil {
			log.WithError(err).Errorf("Failed to resolve %s", p.Name)
			if dbErr := db.MarkError(p, err.Error()); dbErr != nil {
				log.WithError(dbErr).Warnf("Failed to record resolve error for %s", p.Name)
			}
			continue
		}
		if !res.Found {
			log.Warnf("No catalog entry for %s, skipping", p.Name)
			if dbErr := db.MarkError(p, "product not found in catalog"); dbErr != nil {
				log.WithError(dbErr).Warnf("Failed to record missing product %s", p.Name)
			}
			continue
		}
		if p.ID == "" {
			p.ID = res.UUID
		}

		relDir, err := paths.GeneratePath(globalConfig.Download.PathPattern, paths.ProductData(p))
		if err != nil {
			log.WithError(err).Errorf("Failed to build path for %s", p.Name)
			if dbErr := db.MarkError(p, err.Error()); dbErr != nil {
				log.WithError(dbErr).Warnf("Failed to record path error for %s", p.Name)
			}
			continue
		}

		target := filepath.Join(baseDir, relDir, p.Name+".zip")
		jobs = append(jobs, downloader.Job{Product: p, URL: res.URL, TargetPath: target})
	}
	return jobs
}

func runDownload(cmd *cobra.Command, args []string) error {
	authority, err := newAuthority(globalConfig)
	if err != nil {
		return err
	}
	client := newApiClient(globalConfig, authority)
	fileDownloader := newFileDownloader(globalConfig, authority)
	db, err := openStore(globalConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	products, err := gatherProducts(ctx, client, args)
	if err != nil {
		return err
	}
	if len(products) == 0 {
		log.Info("Nothing to download")
		return nil
	}

	baseDir := globalConfig.SavePath
	if downloadOutputFlag != "" {
		baseDir = downloadOutputFlag
	}

	jobs := buildJobs(ctx, client, db, products, baseDir)
	if len(jobs) == 0 {
		log.Warn("No products could be resolved")
		return nil
	}

	for _, job := range jobs {
		if err := db.MarkPending(job.Product); err != nil {
			log.WithError(err).Warnf("Failed to mark %s pending", job.Product.Name)
		}
	}

	writer := uilive.New()
	writer.Start()
	defer writer.Stop()

	opts := downloader.FetchOptions{
		Overwrite: downloadOverwriteFlag || globalConfig.Download.Overwrite,
		Verify:    downloadChecksumFlag || globalConfig.Download.VerifyChecksum,
	}

	var batch downloader.BatchResult
	startTime := time.Now()

	if downloadParallelFlag || globalConfig.Download.Parallel {
		workers := downloadWorkersFlag
		if workers <= 0 {
			workers = globalConfig.Download.Concurrency
		}
		if workers <= 0 {
			workers = downloader.DefaultWorkers
		}
		log.Infof("Downloading %d products with %d workers", len(jobs), workers)
		batch, err = fileDownloader.DownloadAllParallel(ctx, jobs, opts, workers, func(completed, total int) {
			fmt.Fprintf(writer, "Downloaded %d/%d products\n", completed, total)
		})
		if err != nil {
			return err
		}
	} else {
		current := ""
		opts.Progress = func(downloaded, total int64) {
			if total > 0 {
				fmt.Fprintf(writer, "Downloading %s: %s / %s\n", current, helpers.BytesToSize(uint64(downloaded)), helpers.BytesToSize(uint64(total)))
			} else {
				fmt.Fprintf(writer, "Downloading %s: %s\n", current, helpers.BytesToSize(uint64(downloaded)))
			}
		}
		// Sequential runs job-by-job so the progress line can name the file.
		batch = downloader.BatchResult{}
		for i, job := range jobs {
			current = job.Product.Name
			log.Infof("[%d/%d] %s", i+1, len(jobs), job.Product.Name)
			single := fileDownloader.DownloadAll(ctx, []downloader.Job{job}, opts)
			batch.Results = append(batch.Results, single.Results...)
		}
	}

	for _, r := range batch.Results {
		if r.Err != nil {
			if dbErr := db.MarkError(r.Product, r.Err.Error()); dbErr != nil {
				log.WithError(dbErr).Warnf("Failed to record error for %s", r.Product.Name)
			}
			continue
		}
		if dbErr := db.MarkDownloaded(r.Product, r.Path); dbErr != nil {
			log.WithError(dbErr).Warnf("Failed to record success for %s", r.Product.Name)
		}
	}

	if downloadQuicklookFlag || globalConfig.Download.SaveQuicklooks {
		downloadBatchQuicklooks(ctx, client, fileDownloader, batch)
	}

	fmt.Fprintf(writer.Newline(), "Done: %d succeeded, %d failed in %s\n",
		batch.Succeeded(), batch.Failed(), time.Since(startTime).Round(time.Second))
	if batch.Failed() > 0 {
		printFailureSummary(batch)
		return fmt.Errorf("%d of %d downloads failed", batch.Failed(), len(batch.Results))
	}
	return nil
}

// printFailureSummary lists the first few failures so a large batch does
// not flood the terminal.
func printFailureSummary(batch downloader.BatchResult) {
	const maxShown = 5
	shown := 0
	for _, r := range batch.Results {
		if r.Err == nil {
			continue
		}
		if shown == maxShown {
			fmt.Printf("  ... and %d more failures (see 'db list --status Error')\n", batch.Failed()-maxShown)
			break
		}
		fmt.Printf("  failed: %v\n", r.Err)
		shown++
	}
}

// downloadBatchQuicklooks fetches previews beside each successfully
// downloaded archive. Preview failures are logged, never fatal.
func downloadBatchQuicklooks(ctx context.Context, client *api.Client, fileDownloader *downloader.Downloader, batch downloader.BatchResult) {
	var qjobs []downloader.QuicklookJob
	for _, r := range batch.Results {
		if r.Err != nil || r.Product.ID == "" {
			continue
		}
		qjobs = append(qjobs, downloader.QuicklookJob{
			Product: r.Product,
			URLs:    client.QuicklookURLs(r.Product.ID),
			Dir:     filepath.Dir(r.Path),
		})
	}
	if len(qjobs) == 0 {
		return
	}
	results, err := fileDownloader.DownloadQuicklooks(ctx, qjobs, downloader.DefaultWorkers)
	if err != nil {
		log.WithError(err).Warn("Quicklook batch failed")
		return
	}
	for _, qr := range results {
		if qr.Err != nil && !errors.Is(qr.Err, downloader.ErrQuicklookUnavailable) {
			log.WithError(qr.Err).Warnf("Quicklook failed for %s", qr.Product.Name)
		}
	}
}
