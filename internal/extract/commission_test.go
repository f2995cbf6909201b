package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseAmount(t *testing.T) {
	cases := []struct {
		in   string
		want float64
		ok   bool
	}{
		{"123.45", 123.45, true},
		{"$1,234.50", 1234.50, true},
		{"€ 99", 99, true},
		{"(123.45)", -123.45, true},
		{"($2,000)", -2000, true},
		{"-42.00", -42, true},
		{"", 0, false},
		{"n/a", 0, false},
		{"--", 0, false},
		{"  $0.01 ", 0.01, true},
	}
	for _, tc := range cases {
		got, ok := ParseAmount(tc.in)
		assert.Equal(t, tc.ok, ok, "input %q", tc.in)
		assert.InDelta(t, tc.want, got, 1e-9, "input %q", tc.in)
	}
}

func TestSumCommissionKeyMatching(t *testing.T) {
	rows := []Row{
		{"Policy": "A-100", "Commission Amount": "$100.00"},
		{"Policy": "A-101", "Commission Amount": "(25.00)"},
		{"Policy": "A-102", "Commission Amount": "bogus"},
	}
	assert.InDelta(t, 75.0, SumCommission(rows), 1e-9)
}

func TestSumCommissionAbbreviatedHeaders(t *testing.T) {
	rows := []Row{
		{"policy_no": "B-1", "comm_amt": "10.50"},
		{"policy_no": "B-2", "comm_amt": "$9.50"},
	}
	assert.InDelta(t, 20.0, SumCommission(rows), 1e-9)
}

func TestSumCommissionSubstringFallback(t *testing.T) {
	rows := []Row{
		{"Renewal Commission (USD)": "1,000", "Premium": "9,999"},
	}
	assert.InDelta(t, 1000.0, SumCommission(rows), 1e-9)
}

func TestSumCommissionPrefersExplicitAmountColumn(t *testing.T) {
	// Both "Commission Rate" and "Commission Amount" contain the
	// substring; the amount column must win.
	rows := []Row{
		{"Commission Rate": "0.15", "Commission Amount": "150.00"},
	}
	assert.InDelta(t, 150.0, SumCommission(rows), 1e-9)
}

func TestSumCommissionNoMatchingColumn(t *testing.T) {
	rows := []Row{
		{"Premium": "100.00", "Policy": "C-1"},
	}
	assert.Zero(t, SumCommission(rows))
}

func TestAllRows(t *testing.T) {
	e := Extraction{Tables: []Table{
		{Index: 0, Rows: []Row{{"a": "1"}}},
		{Index: 1, Rows: []Row{{"a": "2"}, {"a": "3"}}},
	}}
	assert.Len(t, e.AllRows(), 3)
}
