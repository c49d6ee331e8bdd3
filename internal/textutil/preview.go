package textutil

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Preview returns at most n runes of s, with "..." appended when cut.
func Preview(s string, n int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n])) + "..."
}

// Clip returns at most n runes of s without a suffix.
func Clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// NameList joins the first max names and summarizes the rest as " +N others".
func NameList(names []string, max int) string {
	if len(names) <= max {
		return strings.Join(names, ", ")
	}
	return fmt.Sprintf("%s +%d others", strings.Join(names[:max], ", "), len(names)-max)
}
