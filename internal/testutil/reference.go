package testutil

import (
	"sort"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/distjoin/internal/dataframe"
	"github.com/stretchr/testify/require"
)

// Rows renders the given columns of every row as "v1|v2|..." and returns
// the rows sorted, so two tables can be compared as multisets.
func Rows(tb testing.TB, df *dataframe.DataFrame, cols ...string) []string {
	tb.Helper()
	return renderRows(tb, []*dataframe.DataFrame{df}, cols)
}

// GatheredRows renders the rows of every partition together.
func GatheredRows(tb testing.TB, parts []*dataframe.DataFrame, cols ...string) []string {
	tb.Helper()
	return renderRows(tb, parts, cols)
}

func renderRows(tb testing.TB, parts []*dataframe.DataFrame, cols []string) []string {
	tb.Helper()
	out := []string{}
	for _, df := range parts {
		arrs := columnArrays(tb, df, cols)
		for i := range df.Len() {
			vals := make([]string, len(arrs))
			for c, a := range arrs {
				vals[c] = a.ValueStr(i)
			}
			out = append(out, strings.Join(vals, "|"))
		}
		for _, a := range arrs {
			a.Release()
		}
	}
	sort.Strings(out)
	return out
}

func columnArrays(tb testing.TB, df *dataframe.DataFrame, cols []string) []arrow.Array {
	tb.Helper()
	arrs := make([]arrow.Array, len(cols))
	for i, c := range cols {
		s, ok := df.Column(c)
		require.True(tb, ok, "missing column %s", c)
		arrs[i] = s.Array()
	}
	return arrs
}

// ReferenceJoin computes the inner join of left and right on non-null equal
// keys with nested loops and renders each match as the leftCols values of
// the left row followed by the rightCols values of the right row, sorted.
func ReferenceJoin(
	tb testing.TB,
	left, right *dataframe.DataFrame,
	leftKey, rightKey string,
	leftCols, rightCols []string,
) []string {
	tb.Helper()

	lk := columnArrays(tb, left, []string{leftKey})[0]
	defer lk.Release()
	rk := columnArrays(tb, right, []string{rightKey})[0]
	defer rk.Release()
	la := columnArrays(tb, left, leftCols)
	ra := columnArrays(tb, right, rightCols)
	defer func() {
		for _, a := range append(la, ra...) {
			a.Release()
		}
	}()

	out := []string{}
	for i := range left.Len() {
		if lk.IsNull(i) {
			continue
		}
		for j := range right.Len() {
			if rk.IsNull(j) || lk.ValueStr(i) != rk.ValueStr(j) {
				continue
			}
			vals := make([]string, 0, len(la)+len(ra))
			for _, a := range la {
				vals = append(vals, a.ValueStr(i))
			}
			for _, a := range ra {
				vals = append(vals, a.ValueStr(j))
			}
			out = append(out, strings.Join(vals, "|"))
		}
	}
	sort.Strings(out)
	return out
}
