package util

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContainsString reports whether slice contains item.
func ContainsString(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// ContainsInt64 reports whether slice contains item.
func ContainsInt64(slice []int64, item int64) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// UpperWords upper-cases the first letter of every space separated word and
// leaves the rest of each word untouched ("acme_sales crm" -> "Acme Sales Crm"
// after underscores are replaced by the caller).
func UpperWords(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	start := true
	for _, r := range s {
		if start && unicode.IsLetter(r) {
			r = unicode.ToUpper(r)
		}
		start = r == ' ' || r == '\t' || r == '\n'
		b.WriteRune(r)
	}
	return b.String()
}

// HumanizeName turns identifiers like "sales_report" into "Sales Report".
func HumanizeName(s string) string {
	return UpperWords(strings.ReplaceAll(s, "_", " "))
}

// NormalizeFieldName lower-cases a payload field name and replaces
// underscores with spaces so "Customer_ID" and "customer id" compare equal.
func NormalizeFieldName(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, "_", " "))
}

// TruncateString truncates s to maxLen runes and appends "..." if truncated.
// If preserveWords is true, truncates at the last space before maxLen when possible.
func TruncateString(s string, maxLen int, preserveWords bool) string {
	if maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return "..."[:maxLen]
	}
	runes := []rune(s)
	cut := maxLen - 3
	if preserveWords {
		if idx := lastSpaceBefore(runes, cut); idx > 0 {
			cut = idx
		}
	}
	return string(runes[:cut]) + "..."
}

func lastSpaceBefore(runes []rune, pos int) int {
	if pos > len(runes) {
		pos = len(runes)
	}
	for i := pos - 1; i >= 0; i-- {
		if unicode.IsSpace(runes[i]) {
			return i
		}
	}
	return -1
}
