/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package common

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SingleLine folds s onto one line for logging. Line breaks become a
// visible marker and other whitespace runs collapse to one space.
func SingleLine(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space, brk := false, false
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r == '\n' || r == '\r':
			brk = true
		case unicode.IsSpace(r):
			space = true
		default:
			if brk {
				b.WriteString(" ⏎ ")
			} else if space {
				b.WriteByte(' ')
			}
			space, brk = false, false
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Truncate shortens s to at most n runes, marking the cut with "..."
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n <= 3 {
		return string([]rune(s)[:n])
	}
	return string([]rune(s)[:n-3]) + "..."
}
