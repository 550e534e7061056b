package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestStatusConstants(t *testing.T) {
	if StatusPending != "Pending" {
		t.Errorf("StatusPending = %q, want %q", StatusPending, "Pending")
	}
	if StatusDownloaded != "Downloaded" {
		t.Errorf("StatusDownloaded = %q, want %q", StatusDownloaded, "Downloaded")
	}
	if StatusError != "Error" {
		t.Errorf("StatusError = %q, want %q", StatusError, "Error")
	}
}

func TestChecksumListUnmarshalList(t *testing.T) {
	raw := `[{"Value":"abc123","Algorithm":"MD5"},{"Value":"def456","Algorithm":"sha256"}]`

	var list ChecksumList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("Unmarshal list failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(list))
	}
	if list[0].Algorithm != "MD5" || list[0].Value != "abc123" {
		t.Errorf("first entry = %+v", list[0])
	}
	if list[1].Algorithm != "SHA256" {
		t.Errorf("algorithm not upper-cased: %q", list[1].Algorithm)
	}
}

func TestChecksumListUnmarshalSingleObject(t *testing.T) {
	raw := `{"Value":"abc123","Algorithm":"md5"}`

	var list ChecksumList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("Unmarshal object failed: %v", err)
	}
	if len(list) != 1 || list[0].Algorithm != "MD5" {
		t.Errorf("list = %+v, want single MD5 entry", list)
	}
}

func TestChecksumListUnmarshalNullAndEmpty(t *testing.T) {
	for _, raw := range []string{`null`, `[]`, `[{}]`, `""`} {
		var list ChecksumList
		if err := json.Unmarshal([]byte(raw), &list); err != nil {
			t.Errorf("Unmarshal %q failed: %v", raw, err)
		}
		if list != nil {
			t.Errorf("Unmarshal %q = %+v, want nil", raw, list)
		}
	}
}

func TestChecksumListUnlabeledDefaultsToMD5(t *testing.T) {
	raw := `[{"Value":"abc123"}]`

	var list ChecksumList
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if len(list) != 1 || list[0].Algorithm != "MD5" {
		t.Errorf("unlabeled entry = %+v, want MD5", list)
	}
}

func TestChecksumListPreferred(t *testing.T) {
	list := ChecksumList{
		{Algorithm: "BLAKE3", Value: "b3"},
		{Algorithm: "SHA256", Value: "sha"},
		{Algorithm: "MD5", Value: "md5"},
	}
	cs, ok := list.Preferred()
	if !ok || cs.Algorithm != "MD5" {
		t.Errorf("Preferred = %+v, want the MD5 entry", cs)
	}

	list = ChecksumList{{Algorithm: "BLAKE3", Value: "b3"}}
	cs, ok = list.Preferred()
	if !ok || cs.Algorithm != "BLAKE3" {
		t.Errorf("Preferred = %+v, want the BLAKE3 fallback", cs)
	}

	if _, ok := (ChecksumList{}).Preferred(); ok {
		t.Error("empty list should have no preferred checksum")
	}
}

func TestCollectionID(t *testing.T) {
	id, err := CollectionID(" Sentinel-2-L2A ")
	if err != nil {
		t.Fatalf("CollectionID failed: %v", err)
	}
	if id != "sentinel-2-l2a" {
		t.Errorf("id = %q", id)
	}

	if _, err := CollectionID("landsat-9"); !errors.Is(err, ErrValidation) {
		t.Errorf("expected ErrValidation for unknown collection, got %v", err)
	}
}

func TestSearchQueryValidate(t *testing.T) {
	valid := SearchQuery{
		Collection: "sentinel-2-l2a",
		BBox:       []float64{9.0, 45.0, 9.5, 45.5},
		StartDate:  "2024-01-01",
		EndDate:    "2024-01-31",
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid query rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*SearchQuery)
	}{
		{"bbox too short", func(q *SearchQuery) { q.BBox = []float64{1, 2, 3} }},
		{"west >= east", func(q *SearchQuery) { q.BBox = []float64{10, 45, 9, 46} }},
		{"south >= north", func(q *SearchQuery) { q.BBox = []float64{9, 46, 10, 45} }},
		{"longitude out of range", func(q *SearchQuery) { q.BBox = []float64{-200, 45, 9, 46} }},
		{"latitude out of range", func(q *SearchQuery) { q.BBox = []float64{9, 45, 10, 95} }},
		{"dates reversed", func(q *SearchQuery) { q.StartDate, q.EndDate = "2024-02-01", "2024-01-01" }},
		{"bad date format", func(q *SearchQuery) { q.StartDate = "Jan 1 2024" }},
		{"cloud cover negative", func(q *SearchQuery) { c := -5.0; q.CloudCoverMax = &c }},
		{"cloud cover above 100", func(q *SearchQuery) { c := 150.0; q.CloudCoverMax = &c }},
		{"unknown collection", func(q *SearchQuery) { q.Collection = "modis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid
			tt.mutate(&q)
			if err := q.Validate(); !errors.Is(err, ErrValidation) {
				t.Errorf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestStacItemToProduct(t *testing.T) {
	raw := `{
		"id": "S2B_MSIL2A_20240115",
		"collection": "sentinel-2-l2a",
		"geometry": {"type": "Polygon", "coordinates": []},
		"properties": {"datetime": "2024-01-15T10:30:00Z", "eo:cloud_cover": 12.5},
		"assets": {"data": {"href": "https://dl.example/item.zip", "type": "application/zip"}}
	}`

	var item StacItem
	if err := json.Unmarshal([]byte(raw), &item); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	p := item.ToProduct()
	if p.ID != "S2B_MSIL2A_20240115" || p.Name != "S2B_MSIL2A_20240115" {
		t.Errorf("identity = %q / %q", p.ID, p.Name)
	}
	if p.Collection != "sentinel-2-l2a" {
		t.Errorf("collection = %q", p.Collection)
	}
	if p.CloudCover == nil || *p.CloudCover != 12.5 {
		t.Errorf("cloud cover = %v", p.CloudCover)
	}
	want := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	if !p.SensingTime.Equal(want) {
		t.Errorf("sensing time = %v, want %v", p.SensingTime, want)
	}
	if p.DownloadURL != "https://dl.example/item.zip" {
		t.Errorf("download url = %q", p.DownloadURL)
	}
	if len(p.Footprint) == 0 {
		t.Error("footprint geometry dropped")
	}
}

func TestODataProductToProduct(t *testing.T) {
	raw := `{
		"Id": "0a1b2c3d",
		"Name": "S1A_IW_GRDH.SAFE",
		"ContentLength": 123456789,
		"ContentDate": {"Start": "2024-02-10T05:00:00Z", "End": "2024-02-10T05:01:00Z"},
		"Checksum": [{"Value": "ffff", "Algorithm": "MD5"}]
	}`

	var row ODataProduct
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	p := row.ToProduct()
	if p.ID != "0a1b2c3d" || p.Name != "S1A_IW_GRDH.SAFE" {
		t.Errorf("identity = %q / %q", p.ID, p.Name)
	}
	if p.SizeBytes != 123456789 {
		t.Errorf("size = %d", p.SizeBytes)
	}
	if len(p.Checksums) != 1 || p.Checksums[0].Value != "ffff" {
		t.Errorf("checksums = %+v", p.Checksums)
	}
	if p.SensingTime.IsZero() {
		t.Error("sensing time not parsed from ContentDate.Start")
	}
}

func TestDefaultEndpoints(t *testing.T) {
	e := DefaultEndpoints()
	if e.TokenURL == "" || e.StacURL == "" || e.ODataURL == "" || e.DownloadURL == "" {
		t.Errorf("incomplete defaults: %+v", e)
	}
	if len(e.QuicklookBases) != 2 {
		t.Errorf("quicklook bases = %v, want two host variants", e.QuicklookBases)
	}
}
