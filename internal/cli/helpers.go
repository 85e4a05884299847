package cli

import (
	"fmt"
	"time"
)

func formatDate(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatPercent(v float64) string {
	return fmt.Sprintf("%.2f%%", v*100)
}
