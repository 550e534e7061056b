package cmd

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-cdse-download/internal/helpers"
	"go-cdse-download/internal/index"
	"go-cdse-download/internal/models"
	"go-cdse-download/internal/store"
)

var dbListStatusFlag string

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Interact with the local download database",
	Long:  `Inspect and search the database that records every download attempt.`,
}

var dbStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize download states",
	RunE:  runDbStatus,
}

var dbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded products",
	RunE:  runDbList,
}

var dbIndexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the full-text index from the database",
	RunE:  runDbIndex,
}

var dbSearchCmd = &cobra.Command{
	Use:   "search QUERY",
	Short: "Search indexed products",
	Long: `Searches the full-text index built by 'db index'. The query uses
field:value syntax, e.g. 'collection:sentinel-2-l2a' or 'status:Error'.`,
	Args: cobra.ExactArgs(1),
	RunE: runDbSearch,
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbStatusCmd)
	dbCmd.AddCommand(dbListCmd)
	dbCmd.AddCommand(dbIndexCmd)
	dbCmd.AddCommand(dbSearchCmd)

	dbListCmd.Flags().StringVar(&dbListStatusFlag, "status", "", "Only show entries with this status (Pending, Downloaded, Error)")
}

func runDbStatus(cmd *cobra.Command, args []string) error {
	db, err := openStore(globalConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	counts, err := db.Summary()
	if err != nil {
		return err
	}

	statuses := make([]string, 0, len(counts))
	total := 0
	for status, n := range counts {
		statuses = append(statuses, status)
		total += n
	}
	sort.Strings(statuses)

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, status := range statuses {
		fmt.Fprintf(w, "%s\t%d\n", status, counts[status])
	}
	fmt.Fprintf(w, "total\t%d\n", total)
	return w.Flush()
}

func runDbList(cmd *cobra.Command, args []string) error {
	db, err := openStore(globalConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tSIZE\tUPDATED\tDETAILS")
	err = db.Fold(func(entry models.DatabaseEntry) error {
		if dbListStatusFlag != "" && entry.Status != dbListStatusFlag {
			return nil
		}
		size := "-"
		if entry.Product.SizeBytes > 0 {
			size = helpers.BytesToSize(uint64(entry.Product.SizeBytes))
		}
		details := entry.FinalPath
		if entry.Status == models.StatusError {
			details = entry.ErrorDetails
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			entry.Product.Name, entry.Status, size,
			entry.UpdatedAt.Format(time.DateTime), details)
		return nil
	})
	if err != nil {
		return err
	}
	return w.Flush()
}

func runDbIndex(cmd *cobra.Command, args []string) error {
	db, err := openStore(globalConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	idx, err := index.Open(globalConfig.BleveIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	indexed := 0
	err = db.Fold(func(entry models.DatabaseEntry) error {
		if err := idx.IndexEntry(entry); err != nil {
			return err
		}
		indexed++
		return nil
	})
	if err != nil {
		return err
	}
	log.Infof("Indexed %d products into %s", indexed, globalConfig.BleveIndexPath)
	return nil
}

func runDbSearch(cmd *cobra.Command, args []string) error {
	idx, err := index.Open(globalConfig.BleveIndexPath)
	if err != nil {
		return err
	}
	defer idx.Close()

	ids, err := idx.Search(args[0], 100)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Println("No matches.")
		return nil
	}

	db, err := openStore(globalConfig)
	if err != nil {
		return err
	}
	defer db.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tPATH")
	for _, id := range ids {
		entry, err := db.Get(id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				log.Warnf("Indexed product %s no longer in database", id)
				continue
			}
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", entry.Product.Name, entry.Status, entry.FinalPath)
	}
	return w.Flush()
}
