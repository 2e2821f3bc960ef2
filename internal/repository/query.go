package repository

import (
	"strings"

	"CoinPull/internal/domain/models"
	"CoinPull/internal/normalize"
)

// Dialect selects how BuildQuery renders predicates.
type Dialect int

const (
	// DialectSQL renders ANSI predicates for gorm (SQLite, Postgres); a slice
	// bound to @ids expands to an IN list.
	DialectSQL Dialect = iota
	// DialectClickHouse renders the id filter as has(array, column).
	DialectClickHouse
)

// BuildQuery composes the WHERE clause for f with named bind parameters
// (@ids, @start, @end). Bounds are AND-ed and inclusive. An empty where means
// no filtering. Limit is not part of the predicate.
func BuildQuery(f models.QueryFilter, d Dialect) (string, map[string]any) {
	var (
		conds []string
		args  = map[string]any{}
	)

	if ids := normalize.AssetIDs(f.AssetIDs); len(ids) > 0 {
		switch d {
		case DialectClickHouse:
			conds = append(conds, "has(@ids, asset_id)")
		default:
			conds = append(conds, "asset_id IN @ids")
		}
		args["ids"] = ids
	}
	if f.Start != nil {
		conds = append(conds, "ts >= @start")
		args["start"] = f.Start.UTC()
	}
	if f.End != nil {
		conds = append(conds, "ts <= @end")
		args["end"] = f.End.UTC()
	}

	return strings.Join(conds, " AND "), args
}
