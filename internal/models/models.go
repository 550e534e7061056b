package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrValidation indicates malformed caller input (bad bbox, date order,
// cloud cover range, unknown collection).
var ErrValidation = errors.New("validation failed")

// Download status constants used in the state store.
const (
	StatusPending    = "Pending"
	StatusDownloaded = "Downloaded"
	StatusError      = "Error"
)

// Collections maps the short aliases accepted on the command line to the
// catalog collection identifiers the service expects.
var Collections = map[string]string{
	"sentinel-1-grd":  "sentinel-1-grd",
	"sentinel-2-l1c":  "sentinel-2-l1c",
	"sentinel-2-l2a":  "sentinel-2-l2a",
	"sentinel-3-olci": "sentinel-3-olci",
	"sentinel-5p-l2":  "sentinel-5p-l2",
}

// CollectionID resolves a collection alias, returning ErrValidation for
// anything unknown.
func CollectionID(alias string) (string, error) {
	id, ok := Collections[strings.ToLower(strings.TrimSpace(alias))]
	if !ok {
		return "", fmt.Errorf("%w: unknown collection %q", ErrValidation, alias)
	}
	return id, nil
}

// Checksum is a single normalized checksum entry. Algorithm is upper-case
// (MD5, SHA256, BLAKE3); Value is the hex digest as the service reported it.
type Checksum struct {
	Algorithm string `json:"Algorithm"`
	Value     string `json:"Value"`
}

// ChecksumList normalizes the service's mixed checksum shapes (a list of
// objects, a bare object, or nothing at all) into a flat slice at parse time.
type ChecksumList []Checksum

// UnmarshalJSON implements json.Unmarshaler for ChecksumList.
func (c *ChecksumList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" || trimmed == "null" {
		*c = nil
		return nil
	}
	switch trimmed[0] {
	case '[':
		var list []Checksum
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*c = normalizeChecksums(list)
	case '{':
		var one Checksum
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*c = normalizeChecksums([]Checksum{one})
	default:
		// A bare string or number carries no algorithm; drop it.
		*c = nil
	}
	return nil
}

func normalizeChecksums(in []Checksum) ChecksumList {
	out := make(ChecksumList, 0, len(in))
	for _, cs := range in {
		if cs.Value == "" {
			continue
		}
		cs.Algorithm = strings.ToUpper(strings.TrimSpace(cs.Algorithm))
		if cs.Algorithm == "" {
			// Older rows carry an unlabeled MD5.
			cs.Algorithm = "MD5"
		}
		out = append(out, cs)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Preferred returns the checksum to verify against, favoring MD5 (the
// service's canonical digest), then SHA256, then BLAKE3. The second return
// is false when no usable checksum is present.
func (c ChecksumList) Preferred() (Checksum, bool) {
	for _, algo := range []string{"MD5", "SHA256", "BLAKE3"} {
		for _, cs := range c {
			if cs.Algorithm == algo {
				return cs, true
			}
		}
	}
	if len(c) > 0 {
		return c[0], true
	}
	return Checksum{}, false
}

// Product is a single catalog record, parsed from either a STAC item or an
// OData row.
type Product struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Collection  string          `json:"collection"`
	SensingTime time.Time       `json:"sensing_time"`
	CloudCover  *float64        `json:"cloud_cover,omitempty"`
	Footprint   json.RawMessage `json:"footprint,omitempty"`
	SizeBytes   int64           `json:"size_bytes"`
	// DownloadURL is the direct asset href when the catalog provided one.
	// Empty means the download location must be resolved by name lookup.
	DownloadURL string       `json:"download_url,omitempty"`
	Checksums   ChecksumList `json:"checksums,omitempty"`
}

// StacItem mirrors the subset of a STAC search result item we consume.
type StacItem struct {
	ID         string          `json:"id"`
	Collection string          `json:"collection"`
	Geometry   json.RawMessage `json:"geometry"`
	BBox       []float64       `json:"bbox"`
	Properties struct {
		Datetime   string   `json:"datetime"`
		CloudCover *float64 `json:"eo:cloud_cover"`
	} `json:"properties"`
	Assets map[string]struct {
		Href string `json:"href"`
		Type string `json:"type"`
	} `json:"assets"`
}

// ToProduct converts a STAC item into the internal record shape.
func (it StacItem) ToProduct() Product {
	p := Product{
		ID:         it.ID,
		Name:       it.ID,
		Collection: it.Collection,
		CloudCover: it.Properties.CloudCover,
		Footprint:  it.Geometry,
	}
	if ts, err := time.Parse(time.RFC3339, it.Properties.Datetime); err == nil {
		p.SensingTime = ts
	}
	if asset, ok := it.Assets["data"]; ok {
		p.DownloadURL = asset.Href
	}
	return p
}

// ODataProduct mirrors a row of the OData Products entity set.
type ODataProduct struct {
	ID            string          `json:"Id"`
	Name          string          `json:"Name"`
	ContentLength int64           `json:"ContentLength"`
	OriginDate    string          `json:"OriginDate"`
	Checksum      ChecksumList    `json:"Checksum"`
	GeoFootprint  json.RawMessage `json:"GeoFootprint"`
	ContentDate   struct {
		Start string `json:"Start"`
		End   string `json:"End"`
	} `json:"ContentDate"`
}

// ToProduct converts an OData row into the internal record shape.
func (o ODataProduct) ToProduct() Product {
	p := Product{
		ID:        o.ID,
		Name:      o.Name,
		SizeBytes: o.ContentLength,
		Checksums: o.Checksum,
		Footprint: o.GeoFootprint,
	}
	for _, raw := range []string{o.ContentDate.Start, o.OriginDate} {
		if raw == "" {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			p.SensingTime = ts
			break
		}
	}
	return p
}

// SearchQuery describes one catalog search.
type SearchQuery struct {
	Collection    string
	BBox          []float64 // west, south, east, north
	StartDate     string    // YYYY-MM-DD
	EndDate       string
	CloudCoverMax *float64
	Limit         int
}

// Validate checks the query against the service's accepted ranges. All
// failures wrap ErrValidation.
func (q SearchQuery) Validate() error {
	if _, err := CollectionID(q.Collection); err != nil {
		return err
	}
	if q.BBox != nil {
		if len(q.BBox) != 4 {
			return fmt.Errorf("%w: bbox needs exactly 4 values, got %d", ErrValidation, len(q.BBox))
		}
		west, south, east, north := q.BBox[0], q.BBox[1], q.BBox[2], q.BBox[3]
		if west < -180 || east > 180 || west >= east {
			return fmt.Errorf("%w: bbox longitudes must satisfy -180 <= west < east <= 180", ErrValidation)
		}
		if south < -90 || north > 90 || south >= north {
			return fmt.Errorf("%w: bbox latitudes must satisfy -90 <= south < north <= 90", ErrValidation)
		}
	}
	start, err := parseDate(q.StartDate)
	if err != nil {
		return err
	}
	end, err := parseDate(q.EndDate)
	if err != nil {
		return err
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return fmt.Errorf("%w: end date %s is before start date %s", ErrValidation, q.EndDate, q.StartDate)
	}
	if q.CloudCoverMax != nil && (*q.CloudCoverMax < 0 || *q.CloudCoverMax > 100) {
		return fmt.Errorf("%w: cloud cover must be between 0 and 100, got %.1f", ErrValidation, *q.CloudCoverMax)
	}
	return nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not YYYY-MM-DD", ErrValidation, s)
	}
	return ts, nil
}

type (
	// Endpoints carries every service URL so nothing in the client reaches
	// for a package-level constant. Tests point these at local servers.
	Endpoints struct {
		TokenURL       string   `toml:"TokenUrl" json:"TokenUrl"`
		StacURL        string   `toml:"StacUrl" json:"StacUrl"`
		ODataURL       string   `toml:"ODataUrl" json:"ODataUrl"`
		DownloadURL    string   `toml:"DownloadUrl" json:"DownloadUrl"`
		QuicklookBases []string `toml:"QuicklookBases" json:"QuicklookBases"`
	}

	// DownloadConfig holds settings specific to the 'download' command.
	DownloadConfig struct {
		PathPattern      string `toml:"PathPattern" json:"PathPattern"`
		Concurrency      int    `toml:"Concurrency" json:"Concurrency"`
		ClientTimeoutSec int    `toml:"ClientTimeoutSec" json:"ClientTimeoutSec"`
		VerifyChecksum   bool   `toml:"VerifyChecksum" json:"VerifyChecksum"`
		SaveQuicklooks   bool   `toml:"SaveQuicklooks" json:"SaveQuicklooks"`
		Overwrite        bool   `toml:"Overwrite" json:"Overwrite"`
		Parallel         bool   `toml:"Parallel" json:"Parallel"`
	}

	// Config holds the application's configuration settings.
	Config struct {
		SavePath            string         `toml:"SavePath" json:"SavePath"`
		DatabasePath        string         `toml:"DatabasePath" json:"DatabasePath"`
		BleveIndexPath      string         `toml:"BleveIndexPath" json:"BleveIndexPath"`
		LogLevel            string         `toml:"LogLevel" json:"LogLevel"`
		LogFormat           string         `toml:"LogFormat" json:"LogFormat"`
		ClientID            string         `toml:"ClientId" json:"ClientId"`
		ClientSecret        string         `toml:"ClientSecret" json:"ClientSecret"`
		Endpoints           Endpoints      `toml:"Endpoints" json:"Endpoints"`
		Download            DownloadConfig `toml:"Download" json:"Download"`
		APIClientTimeoutSec int            `toml:"ApiClientTimeoutSec" json:"ApiClientTimeoutSec"`
		MaxRetries          int            `toml:"MaxRetries" json:"MaxRetries"`
		InitialRetryDelayMs int            `toml:"InitialRetryDelayMs" json:"InitialRetryDelayMs"`
		LogApiRequests      bool           `toml:"LogApiRequests" json:"LogApiRequests"`
	}

	// DatabaseEntry is the value stored per product in the state store.
	DatabaseEntry struct {
		Product      Product   `json:"product"`
		Status       string    `json:"status"`
		Filename     string    `json:"filename,omitempty"`
		FinalPath    string    `json:"final_path,omitempty"`
		ErrorDetails string    `json:"error_details,omitempty"`
		AddedAt      time.Time `json:"added_at"`
		UpdatedAt    time.Time `json:"updated_at"`
	}
)

// DefaultEndpoints returns the production service endpoints.
func DefaultEndpoints() Endpoints {
	odata := "https://catalogue.dataspace.copernicus.eu/odata/v1"
	download := "https://zipper.dataspace.copernicus.eu/odata/v1/Products"
	return Endpoints{
		TokenURL:    "https://identity.dataspace.copernicus.eu/auth/realms/CDSE/protocol/openid-connect/token",
		StacURL:     "https://sh.dataspace.copernicus.eu/api/v1/catalog/1.0.0",
		ODataURL:    odata,
		DownloadURL: download,
		QuicklookBases: []string{
			odata + "/Products",
			download,
		},
	}
}
