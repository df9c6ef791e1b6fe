package postgres

import (
	"strconv"
	"strings"
	"time"
)

func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func dashToEmpty(s string) string {
	if s == "-" {
		return ""
	}
	return s
}

// tuple returns "($n::cast1,$n+1::cast2,...)" starting at next and the
// index after the last placeholder.
func tuple(next int, casts ...string) (string, int) {
	var b strings.Builder
	b.WriteByte('(')
	for i, c := range casts {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString("$" + strconv.Itoa(next))
		if c != "" {
			b.WriteString("::" + c)
		}
		next++
	}
	b.WriteByte(')')
	return b.String(), next
}

func nowIfZero(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
