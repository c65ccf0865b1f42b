package procurement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRemaining(t *testing.T) {
	cases := []struct {
		name     string
		ordered  int64
		received int64
		want     int64
	}{
		{"untouched", 10, 0, 10},
		{"partial", 10, 4, 6},
		{"complete", 10, 10, 0},
		{"over-received history clamps", 10, 12, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, Remaining(tc.ordered, tc.received))
		})
	}
}

func TestRejected(t *testing.T) {
	require.Equal(t, int64(0), Rejected(5, 5))
	require.Equal(t, int64(2), Rejected(5, 3))
	require.Equal(t, int64(5), Rejected(5, 0))
	require.Equal(t, int64(0), Rejected(5, 7))
}

func TestDocumentTotals(t *testing.T) {
	totals := DocumentTotals([]float64{100, 49.99}, 10)
	require.Equal(t, 149.99, totals.Subtotal)
	require.Equal(t, 15.0, totals.Tax)
	require.Equal(t, 164.99, totals.GrandTotal)
}

func TestDocumentTotalsZeroTax(t *testing.T) {
	totals := DocumentTotals([]float64{0.1, 0.2}, 0)
	require.Equal(t, 0.3, totals.Subtotal)
	require.Equal(t, 0.0, totals.Tax)
	require.Equal(t, 0.3, totals.GrandTotal)
}

func TestRoundMinor(t *testing.T) {
	require.Equal(t, 10.56, RoundMinor(10.555))
	require.Equal(t, 10.55, RoundMinor(10.554))
	require.Equal(t, 0.0, RoundMinor(0))
}

func TestPurchaseOrderTotals(t *testing.T) {
	po := PurchaseOrder{
		TaxRate: 11,
		Lines: []POLine{
			{Qty: 3, UnitPrice: 100},
			{Qty: 2, UnitPrice: 25.5},
		},
	}
	totals := po.Totals()
	require.Equal(t, 351.0, totals.Subtotal)
	require.Equal(t, 38.61, totals.Tax)
	require.Equal(t, 389.61, totals.GrandTotal)
}
