package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"

	"go-cdse-download/internal/models"
)

// ResolveResult is the outcome of resolving a product to a download
// location. Found is false when the catalog simply has no such product;
// that is a result, not an error.
type ResolveResult struct {
	Found bool
	URL   string
	UUID  string
}

type odataListResponse struct {
	Value []models.ODataProduct `json:"value"`
}

// DownloadURLFor builds the archive download URL for a resolved UUID.
func (c *Client) DownloadURLFor(uuid string) string {
	return fmt.Sprintf("%s(%s)/$value", c.Endpoints.DownloadURL, uuid)
}

// QuicklookURLs builds the preview URL for each configured quicklook host.
func (c *Client) QuicklookURLs(uuid string) []string {
	urls := make([]string, 0, len(c.Endpoints.QuicklookBases))
	for _, base := range c.Endpoints.QuicklookBases {
		urls = append(urls, fmt.Sprintf("%s(%s)/Products('Quicklook')/$value", base, uuid))
	}
	return urls
}

// ResolveAsset resolves a product record to a concrete download URL.
// Order: cached UUID from an earlier resolve, then the record's direct
// asset href, then an exact-name OData lookup.
func (c *Client) ResolveAsset(ctx context.Context, p models.Product) (ResolveResult, error) {
	c.resolveMu.Lock()
	uuid, ok := c.resolved[p.ID]
	c.resolveMu.Unlock()
	if ok {
		log.Debugf("Using cached UUID %s for product %s", uuid, p.Name)
		return ResolveResult{Found: true, UUID: uuid, URL: c.DownloadURLFor(uuid)}, nil
	}

	// Object-storage hrefs (s3:// and friends) need credentials the
	// fetcher doesn't have; fall through to the name lookup for those.
	if fetchableHref(p.DownloadURL) {
		return ResolveResult{Found: true, URL: p.DownloadURL}, nil
	}
	if p.DownloadURL != "" {
		log.Debugf("Ignoring non-HTTP asset href for %s: %s", p.Name, p.DownloadURL)
	}

	row, found, err := c.LookupByName(ctx, p.Name)
	if err != nil {
		return ResolveResult{}, err
	}
	if !found {
		log.Debugf("Product %s not present in the OData catalog", p.Name)
		return ResolveResult{Found: false}, nil
	}

	c.resolveMu.Lock()
	c.resolved[p.ID] = row.ID
	c.resolveMu.Unlock()

	return ResolveResult{Found: true, UUID: row.ID, URL: c.DownloadURLFor(row.ID)}, nil
}

// fetchableHref reports whether a direct asset href can be downloaded over
// plain bearer-authenticated HTTP.
func fetchableHref(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}

// LookupByName queries the OData catalog for a product by its exact name.
// The .SAFE suffix is appended when missing. An empty result set returns
// found=false with a nil error.
func (c *Client) LookupByName(ctx context.Context, name string) (models.ODataProduct, bool, error) {
	safeName := name
	if !strings.HasSuffix(safeName, ".SAFE") {
		safeName += ".SAFE"
	}
	// Exact equality only. A prefix or contains filter is dramatically
	// slower server-side and can silently return the wrong product.
	filter := fmt.Sprintf("Name eq '%s'", strings.ReplaceAll(safeName, "'", "''"))

	values := url.Values{}
	values.Set("$filter", filter)
	values.Set("$top", "1")
	reqURL := fmt.Sprintf("%s/Products?%s", c.Endpoints.ODataURL, values.Encode())

	data, err := c.GetJSON(ctx, reqURL)
	if err != nil {
		return models.ODataProduct{}, false, err
	}

	var list odataListResponse
	if err := json.Unmarshal(data, &list); err != nil {
		log.Debugf("Response body causing unmarshal error: %s", string(data))
		return models.ODataProduct{}, false, fmt.Errorf("error unmarshalling product lookup response: %w", err)
	}
	if len(list.Value) == 0 {
		return models.ODataProduct{}, false, nil
	}
	return list.Value[0], true, nil
}

// GetProductInfo fetches full catalog metadata for a product name.
func (c *Client) GetProductInfo(ctx context.Context, name string) (models.Product, bool, error) {
	row, found, err := c.LookupByName(ctx, name)
	if err != nil || !found {
		return models.Product{}, found, err
	}
	return row.ToProduct(), true, nil
}

// CachedUUID exposes the resolver cache for status displays and tests.
func (c *Client) CachedUUID(productID string) (string, bool) {
	c.resolveMu.Lock()
	defer c.resolveMu.Unlock()
	uuid, ok := c.resolved[productID]
	return uuid, ok
}
