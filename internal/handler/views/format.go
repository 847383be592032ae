// Package views renders HTML pages. The page templates live in .templ
// files; run `templ generate` after editing them.
package views

import (
	"fmt"
	"strconv"
)

func percent(v float64) string {
	return fmt.Sprintf("%.0f%%", v*100)
}

func meterValue(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
