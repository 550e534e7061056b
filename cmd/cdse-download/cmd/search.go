package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/helpers"
	"go-cdse-download/internal/models"
)

var (
	searchCollectionFlag string
	searchBBoxFlag       string
	searchPointFlag      string
	searchStartFlag      string
	searchEndFlag        string
	searchCloudFlag      float64
	searchLimitFlag      int
	searchJsonFlag       bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the catalog for products",
	Long: `Searches the catalog for products in a collection, filtered by a bounding
box or a point, a sensing date range, and a maximum cloud cover percentage.`,
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)

	searchCmd.Flags().StringVarP(&searchCollectionFlag, "collection", "c", "", "Collection to search (e.g. sentinel-2-l2a)")
	searchCmd.Flags().StringVar(&searchBBoxFlag, "bbox", "", "Bounding box as 'minLon,minLat,maxLon,maxLat'")
	searchCmd.Flags().StringVar(&searchPointFlag, "point", "", "Point of interest as 'lon,lat'")
	searchCmd.Flags().StringVar(&searchStartFlag, "start", "", "Start of the sensing period (YYYY-MM-DD)")
	searchCmd.Flags().StringVar(&searchEndFlag, "end", "", "End of the sensing period (YYYY-MM-DD)")
	searchCmd.Flags().Float64Var(&searchCloudFlag, "cloud-cover", -1, "Maximum cloud cover percentage (0-100, -1 disables the filter)")
	searchCmd.Flags().IntVar(&searchLimitFlag, "limit", 0, "Maximum number of products to return (0 for no limit)")
	searchCmd.Flags().BoolVar(&searchJsonFlag, "json", false, "Print results as JSON instead of a table")

	_ = searchCmd.MarkFlagRequired("collection")
}

func buildSearchQuery() models.SearchQuery {
	q := models.SearchQuery{
		Collection: searchCollectionFlag,
		StartDate:  searchStartFlag,
		EndDate:    searchEndFlag,
		Limit:      searchLimitFlag,
	}
	if searchCloudFlag >= 0 {
		q.CloudCoverMax = &searchCloudFlag
	}
	return q
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchBBoxFlag == "" && searchPointFlag == "" {
		return fmt.Errorf("either --bbox or --point is required")
	}
	if searchBBoxFlag != "" && searchPointFlag != "" {
		return fmt.Errorf("--bbox and --point are mutually exclusive")
	}

	authority, err := newAuthority(globalConfig)
	if err != nil {
		return err
	}
	client := newApiClient(globalConfig, authority)

	q := buildSearchQuery()
	ctx := cmd.Context()

	var products []models.Product
	if searchPointFlag != "" {
		lon, lat, err := parsePoint(searchPointFlag)
		if err != nil {
			return err
		}
		products, err = client.SearchByPoint(ctx, lon, lat, q)
		if err != nil {
			return err
		}
	} else {
		bbox, err := parseBBox(searchBBoxFlag)
		if err != nil {
			return err
		}
		q.BBox = bbox
		products, err = client.SearchProducts(ctx, q)
		if err != nil {
			return err
		}
	}

	log.Infof("Found %d products", len(products))

	if searchJsonFlag {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(products)
	}

	printProductTable(products)
	return nil
}

func printProductTable(products []models.Product) {
	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSENSED\tCLOUD\tSIZE")
	for _, p := range products {
		sensed := "-"
		if !p.SensingTime.IsZero() {
			sensed = p.SensingTime.Format(time.DateOnly)
		}
		cloud := "-"
		if p.CloudCover != nil {
			cloud = fmt.Sprintf("%.1f%%", *p.CloudCover)
		}
		size := "-"
		if p.SizeBytes > 0 {
			size = helpers.BytesToSize(uint64(p.SizeBytes))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.Name, sensed, cloud, size)
	}
	w.Flush()
}
