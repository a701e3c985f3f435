package canonical

import (
	"strings"

	"golang.org/x/text/cases"
)

// IndicatorNames maps normalized raw category names to their canonical
// display names. Categories without an entry keep their raw name; an
// indicator is never dropped at this stage.
var IndicatorNames = map[string]string{
	"gdp":                      "GDP",
	"consumer price index cpi": "Consumer Price Index CPI",
	"unemployment rate":        "Unemployment Rate",
	"balance of trade":         "Balance of Trade",
}

var foldCaser = cases.Fold()

// NormalizeName case-folds a name and collapses internal whitespace, so
// "  GDP " and "gdp" produce the same lookup key.
func NormalizeName(s string) string {
	return strings.Join(strings.Fields(foldCaser.String(s)), " ")
}
