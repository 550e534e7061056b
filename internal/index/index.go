package index

import (
	"fmt"
	"time"

	"github.com/blevesearch/bleve/v2"
	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/models"
)

// ProductDoc is the flattened shape indexed per product.
type ProductDoc struct {
	Name        string  `json:"name"`
	Collection  string  `json:"collection"`
	Status      string  `json:"status"`
	SensingTime string  `json:"sensing_time"`
	CloudCover  float64 `json:"cloud_cover"`
	SizeBytes   int64   `json:"size_bytes"`
	FinalPath   string  `json:"final_path"`
}

// Index is a local full-text index over the state store, for searching
// downloaded products without hitting the catalog.
type Index struct {
	idx bleve.Index
}

// Open opens the index at path, creating it on first use.
func Open(path string) (*Index, error) {
	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		log.Debugf("Creating new product index at %s", path)
		idx, err = bleve.New(path, bleve.NewIndexMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening product index at %s: %w", path, err)
	}
	return &Index{idx: idx}, nil
}

// Close closes the underlying index.
func (i *Index) Close() error {
	return i.idx.Close()
}

// IndexEntry indexes one state-store entry, keyed by product id.
func (i *Index) IndexEntry(entry models.DatabaseEntry) error {
	doc := ProductDoc{
		Name:       entry.Product.Name,
		Collection: entry.Product.Collection,
		Status:     entry.Status,
		SizeBytes:  entry.Product.SizeBytes,
		FinalPath:  entry.FinalPath,
	}
	if !entry.Product.SensingTime.IsZero() {
		doc.SensingTime = entry.Product.SensingTime.Format(time.RFC3339)
	}
	if entry.Product.CloudCover != nil {
		doc.CloudCover = *entry.Product.CloudCover
	}
	if err := i.idx.Index(entry.Product.ID, doc); err != nil {
		return fmt.Errorf("indexing product %s: %w", entry.Product.ID, err)
	}
	return nil
}

// Search runs a query-string search and returns matching product ids.
func (i *Index) Search(query string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 25
	}
	req := bleve.NewSearchRequestOptions(bleve.NewQueryStringQuery(query), limit, 0, false)
	res, err := i.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("searching index for %q: %w", query, err)
	}
	ids := make([]string, 0, len(res.Hits))
	for _, hit := range res.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Count returns the number of indexed products.
func (i *Index) Count() (uint64, error) {
	return i.idx.DocCount()
}
