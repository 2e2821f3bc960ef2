// Package normalize maps raw CSV rows and provider series into canonical
// price and metadata records. Everything here is pure.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"CoinPull/internal/domain/errs"
	"CoinPull/internal/domain/models"
)

// CSV header names of the market-data export.
const (
	ColSymbol            = "Symbol"
	ColID                = "ID"
	ColName              = "Name"
	ColPrice             = "Price"
	ColMarketCap         = "Market Cap"
	ColVolume24h         = "Volume (24h)"
	ColChange1h          = "1h %"
	ColChange24h         = "24h %"
	ColChange7d          = "7d %"
	ColChange30d         = "30d %"
	ColChange60d         = "60d %"
	ColChange90d         = "90d %"
	ColChangeYTD         = "YTD %"
	ColVolumeChange24h   = "Volume Change (24h)"
	ColVolumeChange30d   = "Volume Change (30d)"
	ColCirculatingSupply = "Circulating Supply"
	ColTotalSupply       = "Total Supply"
	ColMaxSupply         = "Max Supply"
	ColNumMarketPairs    = "Num Market Pairs"
)

// optional price columns and where they land.
var priceColumns = []struct {
	col string
	ptr func(*models.PriceRecord) **float64
}{
	{ColMarketCap, func(r *models.PriceRecord) **float64 { return &r.MarketCap }},
	{ColVolume24h, func(r *models.PriceRecord) **float64 { return &r.Volume }},
	{ColChange1h, func(r *models.PriceRecord) **float64 { return &r.Change1h }},
	{ColChange24h, func(r *models.PriceRecord) **float64 { return &r.Change24h }},
	{ColChange7d, func(r *models.PriceRecord) **float64 { return &r.Change7d }},
	{ColChange30d, func(r *models.PriceRecord) **float64 { return &r.Change30d }},
	{ColChange60d, func(r *models.PriceRecord) **float64 { return &r.Change60d }},
	{ColChange90d, func(r *models.PriceRecord) **float64 { return &r.Change90d }},
	{ColChangeYTD, func(r *models.PriceRecord) **float64 { return &r.ChangeYTD }},
	{ColVolumeChange24h, func(r *models.PriceRecord) **float64 { return &r.VolumeChange24h }},
	{ColVolumeChange30d, func(r *models.PriceRecord) **float64 { return &r.VolumeChange30d }},
}

var supplyColumns = []struct {
	col string
	ptr func(*models.AssetMetadata) **float64
}{
	{ColCirculatingSupply, func(m *models.AssetMetadata) **float64 { return &m.CirculatingSupply }},
	{ColTotalSupply, func(m *models.AssetMetadata) **float64 { return &m.TotalSupply }},
	{ColMaxSupply, func(m *models.AssetMetadata) **float64 { return &m.MaxSupply }},
}

// AssetID returns the canonical form of an identifier.
func AssetID(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// AssetIDs canonicalizes and de-duplicates ids, keeping first-seen order and
// dropping empty entries.
func AssetIDs(raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, r := range raw {
		id := AssetID(r)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// CSVRow normalizes one export row taken at snapshot. Metadata is returned when
// the row carries a name or any supply column.
func CSVRow(row models.RawRow, snapshot time.Time) (models.PriceRecord, *models.AssetMetadata, error) {
	ts := snapshot.UTC()

	symbol := strings.TrimSpace(row[ColSymbol])
	id := AssetID(symbol)
	if id == "" {
		id = AssetID(row[ColID])
	}
	if id == "" {
		return models.PriceRecord{}, nil, errs.Invalid(ColSymbol, "", "identifier is required")
	}

	rec := models.PriceRecord{Timestamp: ts, AssetID: id}

	rawPrice, ok := row[ColPrice]
	if !ok || isAbsent(strings.TrimSpace(rawPrice)) {
		return models.PriceRecord{}, nil, errs.Invalid(ColPrice, rawPrice, "price is required")
	}
	price, ok := parseNumber(rawPrice)
	if !ok {
		return models.PriceRecord{}, nil, errs.Invalid(ColPrice, rawPrice, "not a number")
	}
	if *price < 0 {
		return models.PriceRecord{}, nil, errs.Invalid(ColPrice, rawPrice, "price must be >= 0")
	}
	rec.Price = price

	for _, c := range priceColumns {
		raw, present := row[c.col]
		if !present {
			continue
		}
		v, ok := parseNumber(raw)
		if !ok {
			return models.PriceRecord{}, nil, errs.Invalid(c.col, raw, "not a number")
		}
		*c.ptr(&rec) = v
	}

	meta, err := csvMetadata(row, id, symbol, ts)
	if err != nil {
		return models.PriceRecord{}, nil, err
	}
	return rec, meta, nil
}

func csvMetadata(row models.RawRow, id, symbol string, ts time.Time) (*models.AssetMetadata, error) {
	name, hasName := row[ColName]
	carries := hasName
	for _, c := range supplyColumns {
		if _, ok := row[c.col]; ok {
			carries = true
		}
	}
	if _, ok := row[ColNumMarketPairs]; ok {
		carries = true
	}
	if !carries {
		return nil, nil
	}

	if symbol == "" {
		symbol = strings.TrimSpace(row[ColID])
	}
	meta := &models.AssetMetadata{
		AssetID:     id,
		Name:        strings.TrimSpace(name),
		Symbol:      symbol,
		LastUpdated: ts,
	}
	for _, c := range supplyColumns {
		raw, present := row[c.col]
		if !present {
			continue
		}
		v, ok := parseNumber(raw)
		if !ok {
			return nil, errs.Invalid(c.col, raw, "not a number")
		}
		*c.ptr(meta) = v
	}
	if raw, ok := row[ColNumMarketPairs]; ok {
		n, ok := parseCount(raw)
		if !ok {
			return nil, errs.Invalid(ColNumMarketPairs, raw, "not a whole number")
		}
		meta.NumMarketPairs = n
	}
	return meta, nil
}

// Series normalizes a provider market-chart fragment. Each point becomes one
// record stamped with the provider's series timestamp.
func Series(frag models.SeriesFragment) ([]models.PriceRecord, error) {
	id := AssetID(frag.AssetID)
	if id == "" {
		return nil, errs.Invalid("id", "", "identifier is required")
	}
	n := len(frag.Prices)
	if len(frag.MarketCaps) != n || len(frag.TotalVolumes) != n {
		return nil, errs.Invalid("series", id, fmt.Sprintf("length mismatch prices=%d market_caps=%d total_volumes=%d",
			n, len(frag.MarketCaps), len(frag.TotalVolumes)))
	}

	out := make([]models.PriceRecord, 0, n)
	for i := 0; i < n; i++ {
		p, mc, vol := frag.Prices[i], frag.MarketCaps[i], frag.TotalVolumes[i]
		if p[0] != mc[0] || p[0] != vol[0] {
			return nil, errs.Invalid("series", id, fmt.Sprintf("timestamp mismatch at index %d", i))
		}
		if p[1] < 0 {
			return nil, errs.Invalid("prices", fmt.Sprint(p[1]), fmt.Sprintf("negative price at index %d", i))
		}
		out = append(out, models.PriceRecord{
			Timestamp: time.UnixMilli(int64(p[0])).UTC(),
			AssetID:   id,
			Price:     models.Float(p[1]),
			MarketCap: models.Float(mc[1]),
			Volume:    models.Float(vol[1]),
		})
	}
	return out, nil
}
