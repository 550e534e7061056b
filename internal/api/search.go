package api

import (
	"context"
	"encoding/json"
	"fmt"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/models"
)

// pointSearchDelta is the half-width in degrees of the bbox built around a
// point search coordinate.
const pointSearchDelta = 0.05

// defaultSearchLimit caps the page size requested from the catalog.
const defaultSearchLimit = 100

type stacSearchRequest struct {
	Collections []string  `json:"collections"`
	Datetime    string    `json:"datetime,omitempty"`
	BBox        []float64 `json:"bbox,omitempty"`
	Limit       int       `json:"limit"`
	Next        *int      `json:"next,omitempty"`
}

type stacSearchResponse struct {
	Features []models.StacItem `json:"features"`
	Context  struct {
		Next *int `json:"next"`
	} `json:"context"`
}

// SearchProducts runs a catalog search and returns matching records.
// Cloud-cover filtering happens client-side: the catalog's items carry
// eo:cloud_cover but the search endpoint has no threshold parameter.
func (c *Client) SearchProducts(ctx context.Context, q models.SearchQuery) ([]models.Product, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	collection, err := models.CollectionID(q.Collection)
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 || limit > defaultSearchLimit {
		limit = defaultSearchLimit
	}

	body := stacSearchRequest{
		Collections: []string{collection},
		BBox:        q.BBox,
		Limit:       limit,
	}
	if q.StartDate != "" || q.EndDate != "" {
		start, end := q.StartDate, q.EndDate
		if start == "" {
			start = ".."
		} else {
			start += "T00:00:00Z"
		}
		if end == "" {
			end = ".."
		} else {
			end += "T23:59:59Z"
		}
		body.Datetime = fmt.Sprintf("%s/%s", start, end)
	}

	searchURL := c.Endpoints.StacURL + "/search"
	var products []models.Product

	for {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("error encoding search request: %w", err)
		}
		data, err := c.PostJSON(ctx, searchURL, payload)
		if err != nil {
			return nil, err
		}

		var page stacSearchResponse
		if err := json.Unmarshal(data, &page); err != nil {
			log.Debugf("Response body causing unmarshal error: %s", string(data))
			return nil, fmt.Errorf("error unmarshalling search response: %w", err)
		}

		for _, item := range page.Features {
			p := item.ToProduct()
			if q.CloudCoverMax != nil {
				if p.CloudCover == nil || *p.CloudCover > *q.CloudCoverMax {
					log.Debugf("Dropping %s: cloud cover %v above threshold %.1f", p.Name, p.CloudCover, *q.CloudCoverMax)
					continue
				}
			}
			products = append(products, p)
			if q.Limit > 0 && len(products) >= q.Limit {
				return products, nil
			}
		}

		if page.Context.Next == nil || len(page.Features) == 0 {
			break
		}
		body.Next = page.Context.Next
	}

	log.Infof("Catalog search returned %d matching products", len(products))
	return products, nil
}

// SearchByPoint searches a small box centered on a coordinate.
func (c *Client) SearchByPoint(ctx context.Context, lon, lat float64, q models.SearchQuery) ([]models.Product, error) {
	if lon < -180 || lon > 180 {
		return nil, fmt.Errorf("%w: longitude %.4f out of range", models.ErrValidation, lon)
	}
	if lat < -90 || lat > 90 {
		return nil, fmt.Errorf("%w: latitude %.4f out of range", models.ErrValidation, lat)
	}
	q.BBox = []float64{lon - pointSearchDelta, lat - pointSearchDelta, lon + pointSearchDelta, lat + pointSearchDelta}
	return c.SearchProducts(ctx, q)
}
