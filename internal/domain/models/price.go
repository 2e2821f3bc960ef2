package models

import "time"

// PriceRecord is one point-in-time market snapshot of an asset, keyed by
// (Timestamp, AssetID). Absent values are nil, never zero.
type PriceRecord struct {
	Timestamp time.Time `json:"timestamp"`
	AssetID   string    `json:"asset_id"`
	Price     *float64  `json:"price,omitempty"`
	MarketCap *float64  `json:"market_cap,omitempty"`
	Volume    *float64  `json:"volume,omitempty"`

	Change1h  *float64 `json:"percent_change_1h,omitempty"`
	Change24h *float64 `json:"percent_change_24h,omitempty"`
	Change7d  *float64 `json:"percent_change_7d,omitempty"`
	Change30d *float64 `json:"percent_change_30d,omitempty"`
	Change60d *float64 `json:"percent_change_60d,omitempty"`
	Change90d *float64 `json:"percent_change_90d,omitempty"`
	ChangeYTD *float64 `json:"percent_change_ytd,omitempty"`

	VolumeChange24h *float64 `json:"volume_change_24h,omitempty"`
	VolumeChange30d *float64 `json:"volume_change_30d,omitempty"`
}

// PriceKey is the composite primary key of a PriceRecord.
type PriceKey struct {
	Timestamp int64 // unix nanoseconds, UTC
	AssetID   string
}

// Key returns the record's primary key.
func (r PriceRecord) Key() PriceKey {
	return PriceKey{Timestamp: r.Timestamp.UTC().UnixNano(), AssetID: r.AssetID}
}

// AssetMetadata describes an asset independently of its price history.
type AssetMetadata struct {
	AssetID           string    `json:"asset_id"`
	Name              string    `json:"name"`
	Symbol            string    `json:"symbol"`
	CirculatingSupply *float64  `json:"circulating_supply,omitempty"`
	TotalSupply       *float64  `json:"total_supply,omitempty"`
	MaxSupply         *float64  `json:"max_supply,omitempty"`
	NumMarketPairs    *int64    `json:"num_market_pairs,omitempty"`
	LastUpdated       time.Time `json:"last_updated"`
}

// RawRow is one CSV data row keyed by header name.
type RawRow map[string]string

// SeriesPoint is a provider [epoch_ms, value] pair.
type SeriesPoint [2]float64

// SeriesFragment is a provider market-chart response for one asset. The three
// arrays are aligned by index.
type SeriesFragment struct {
	AssetID      string        `json:"-"`
	Prices       []SeriesPoint `json:"prices"`
	MarketCaps   []SeriesPoint `json:"market_caps"`
	TotalVolumes []SeriesPoint `json:"total_volumes"`
}

// QueryFilter selects price records. Nil or empty fields do not filter.
type QueryFilter struct {
	AssetIDs []string
	Start    *time.Time // inclusive
	End      *time.Time // inclusive
	Limit    int        // 0 = unlimited
}

// PricePage is one limited read. Truncated means more records matched the
// filter than Limit allowed.
type PricePage struct {
	Rows      []PriceRecord
	Truncated bool
}

// WriteResult reports what a single upsert call persisted.
type WriteResult struct {
	PricesWritten   int `json:"prices_written"`
	MetadataWritten int `json:"metadata_written"`
}

// Float returns a pointer to v.
func Float(v float64) *float64 { return &v }
