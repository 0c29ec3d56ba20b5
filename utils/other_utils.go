package utils

import (
	"strings"
	"unicode/utf8"
)

// ShortText truncates s to at most maxLen bytes without splitting a UTF-8
// sequence.
//
// https://stackoverflow.com/questions/59955085/how-can-i-elliptically-truncate-text-in-golang
func ShortText(s string, maxLen int) string {
	if len(s) < maxLen {
		return s
	}

	if utf8.ValidString(s[:maxLen]) {
		return s[:maxLen]
	}
	return strings.ToValidUTF8(s[:maxLen], "")
}
