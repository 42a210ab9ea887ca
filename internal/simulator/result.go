package simulator

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sebastiankruger/factory-twin/internal/core"
)

// SelectRecord picks the record whose lot matches lotFilter (trimmed,
// case-insensitive). Without a filter, or when nothing matches, the first
// record in returned order is used.
func SelectRecord(records []core.ProductionRecord, lotFilter string) (core.ProductionRecord, bool) {
	if len(records) == 0 {
		return core.ProductionRecord{}, false
	}

	want := strings.TrimSpace(lotFilter)
	if want != "" {
		for _, r := range records {
			if strings.EqualFold(strings.TrimSpace(r.Lot), want) {
				return r, true
			}
		}
	}
	return records[0], true
}

// BuildRunResult coerces the loosely typed record fields into a RunResult.
// fallbackLot is used when the record carries no lot.
func BuildRunResult(rec core.ProductionRecord, fallbackLot string, now time.Time) *core.RunResult {
	lot := strings.TrimSpace(rec.Lot)
	if lot == "" {
		lot = fallbackLot
	}

	status := rec.Status
	if status == "" {
		status = core.RunStatusFinish
	}

	result := &core.RunResult{
		LotNumber:     lot,
		Status:        status,
		Averages:      coerceAverages(rec.Averages),
		OperationHour: coerceOperationHour(rec.OperationHour),
		GoodProduct:   coerceCount(rec.GoodProduct),
		DefectProduct: coerceCount(rec.DefectProduct),
		Conclusion:    coerceConclusion(rec.Conclusion),
	}

	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec.UpdatedAt)); err == nil {
		result.Timestamp = &ts
	} else {
		result.Timestamp = &now
	}
	return result
}

// toFloat returns v as a float64 when it is a JSON-decoded or native number
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func coerceOperationHour(v interface{}) *string {
	if n, ok := toFloat(v); ok && isFinite(n) {
		unit := "hours"
		if n == 1 {
			unit = "hour"
		}
		s := strconv.FormatFloat(n, 'f', -1, 64) + " " + unit
		return &s
	}
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return &s
		}
	}
	return nil
}

func coerceCount(v interface{}) *int {
	n, ok := toFloat(v)
	if !ok {
		s, isString := v.(string)
		if !isString {
			return nil
		}
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil
		}
		n = parsed
	}
	if !isFinite(n) {
		return nil
	}
	r := math.Round(n)
	if r < math.MinInt || r >= -math.MinInt {
		return nil
	}
	rounded := int(r)
	return &rounded
}

func coerceAverages(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for name, v := range in {
		if n, ok := toFloat(v); ok {
			if isFinite(n) {
				out[name] = n
			}
			continue
		}
		if s, ok := v.(string); ok {
			out[name] = s
		}
	}
	return out
}

func coerceConclusion(v interface{}) string {
	if s, ok := v.(string); ok {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return core.DefaultConclusion
}
