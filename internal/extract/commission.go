package extract

import (
	"strconv"
	"strings"
)

// SumCommission totals the commission column across rows. Column matching
// is best-effort: header names are normalized and the first key containing
// "commission" wins, with a few common abbreviations tried first. Rows with
// no parseable amount contribute zero.
func SumCommission(rows []Row) float64 {
	var total float64
	for _, row := range rows {
		key, ok := commissionKey(row)
		if !ok {
			continue
		}
		if amount, ok := ParseAmount(row[key]); ok {
			total += amount
		}
	}
	return total
}

// preferredKeys are tried before the substring fallback, most specific
// first.
var preferredKeys = []string{
	"commissionamount",
	"commissionamt",
	"commamount",
	"commamt",
	"commission",
}

func commissionKey(row Row) (string, bool) {
	normalized := make(map[string]string, len(row))
	for k := range row {
		normalized[normalizeHeader(k)] = k
	}
	for _, want := range preferredKeys {
		if orig, ok := normalized[want]; ok {
			return orig, true
		}
	}
	for norm, orig := range normalized {
		if strings.Contains(norm, "commission") {
			return orig, true
		}
	}
	return "", false
}

func normalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAmount converts a cell value to a number, tolerating what OCR and
// spreadsheets throw at it: currency symbols, thousands separators, and
// accounting-style parenthesized negatives.
func ParseAmount(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		case r == ',', r == ' ', r == '$', r == '€', r == '£', r == '¥':
			// separators and currency markers
		default:
			// stray OCR characters; drop and keep going
		}
	}
	cleaned := b.String()
	if cleaned == "" || cleaned == "-" {
		return 0, false
	}

	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		v = -v
	}
	return v, true
}
