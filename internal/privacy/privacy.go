// Package privacy strips identifying fields from submitted records and
// derives the numeric summaries exposed to unauthenticated readers.
package privacy

import (
	"math"
	"sort"
	"strings"
)

// Record is a single submitted row: field name to primitive value
// (string, float64, bool or nil after JSON decoding).
type Record map[string]any

// suspiciousKeys is the fixed denylist of identifying field names,
// matched case-insensitively.
var suspiciousKeys = map[string]struct{}{
	"name":       {},
	"fullname":   {},
	"email":      {},
	"phone":      {},
	"address":    {},
	"street":     {},
	"zipcode":    {},
	"postalcode": {},
	"ip":         {},
	"deviceid":   {},
	"userid":     {},
	"uid":        {},
}

// NumericStat holds per-field min/max/avg across all rows where the
// field carried a numeric value.
type NumericStat struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Summary is the aggregate view of a record batch.
type Summary struct {
	RecordCount  int                    `json:"recordCount"`
	FieldNames   []string               `json:"fieldNames"`
	NumericStats map[string]NumericStat `json:"numericStats"`
}

// Anonymize returns a copy of rows with denylisted fields removed.
// Row count and row order never change; a row whose every field is
// denylisted stays in place as an empty record.
func Anonymize(rows []Record) []Record {
	out := make([]Record, len(rows))
	for i, row := range rows {
		clean := make(Record, len(row))
		for k, v := range row {
			if _, bad := suspiciousKeys[strings.ToLower(k)]; bad {
				continue
			}
			clean[k] = v
		}
		out[i] = clean
	}
	return out
}

// Aggregate computes the summary for a batch of rows. Non-numeric and
// missing values are excluded from a field's numeric stats rather than
// treated as zero; an all-empty field set yields no stats entry. The
// average of zero samples is defined as 0, never NaN.
func Aggregate(rows []Record) Summary {
	fieldSet := make(map[string]struct{})

	type running struct {
		min, max, sum float64
		count         int
	}
	stats := make(map[string]*running)

	for _, row := range rows {
		for k, v := range row {
			fieldSet[k] = struct{}{}
			n, ok := asFiniteNumber(v)
			if !ok {
				continue
			}
			s, seen := stats[k]
			if !seen {
				s = &running{min: n, max: n}
				stats[k] = s
			}
			if n < s.min {
				s.min = n
			}
			if n > s.max {
				s.max = n
			}
			s.sum += n
			s.count++
		}
	}

	names := make([]string, 0, len(fieldSet))
	for k := range fieldSet {
		names = append(names, k)
	}
	sort.Strings(names)

	numeric := make(map[string]NumericStat, len(stats))
	for k, s := range stats {
		avg := 0.0
		if s.count > 0 {
			avg = s.sum / float64(s.count)
		}
		numeric[k] = NumericStat{Min: s.min, Max: s.max, Avg: avg}
	}

	return Summary{
		RecordCount:  len(rows),
		FieldNames:   names,
		NumericStats: numeric,
	}
}

func asFiniteNumber(v any) (float64, bool) {
	var n float64
	switch x := v.(type) {
	case float64:
		n = x
	case float32:
		n = float64(x)
	case int:
		n = float64(x)
	case int64:
		n = float64(x)
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}
