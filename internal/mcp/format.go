package mcp

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatNumber renders counters with thousands separators. Fractional
// floats keep one decimal and are not grouped.
func formatNumber(n any) string {
	var digits string
	switch v := n.(type) {
	case int:
		digits = strconv.FormatInt(int64(v), 10)
	case int64:
		digits = strconv.FormatInt(v, 10)
	case uint64:
		digits = strconv.FormatUint(v, 10)
	case float64:
		if v != float64(int64(v)) {
			return strconv.FormatFloat(v, 'f', 1, 64)
		}
		digits = strconv.FormatInt(int64(v), 10)
	default:
		return fmt.Sprint(n)
	}
	return group(digits)
}

func group(digits string) string {
	sign := ""
	if strings.HasPrefix(digits, "-") {
		sign, digits = "-", digits[1:]
	}
	for i := len(digits) - 3; i > 0; i -= 3 {
		digits = digits[:i] + "," + digits[i:]
	}
	return sign + digits
}

func kv(key string, value any) string {
	return fmt.Sprintf("%-20s %v", key+":", value)
}

func section(title string) string {
	return "## " + title
}

// joinLines drops empty entries.
func joinLines(lines ...string) string {
	kept := lines[:0:0]
	for _, l := range lines {
		if l != "" {
			kept = append(kept, l)
		}
	}
	return strings.Join(kept, "\n")
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

// formatMs switches to seconds from one second up.
func formatMs(v float64) string {
	if v >= 1000 {
		return strconv.FormatFloat(v/1000, 'f', 1, 64) + "s"
	}
	return strconv.FormatFloat(v, 'f', 1, 64) + "ms"
}

// formatTime renders UTC wall time, "-" for unset.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.DateTime)
}

// shortHash keeps the first 10 and last 6 characters of a hash or address.
func shortHash(h string) string {
	if len(h) <= 18 {
		return h
	}
	return h[:10] + "..." + h[len(h)-6:]
}
