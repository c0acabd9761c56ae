/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package directory

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-ldap/ldap/v3"
)

// MaxFilterLength bounds any caller supplied filter text
const MaxFilterLength = 256

var (
	ErrFilterTooLong = errors.New("filter too long")
	ErrFilterChars   = errors.New("filter contains disallowed characters")
	ErrFilterSyntax  = errors.New("filter is not a valid LDAP filter")
)

// IsInvalidInput reports whether err came from input validation rather than
// from the directory
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrFilterTooLong) || errors.Is(err, ErrFilterChars) || errors.Is(err, ErrFilterSyntax)
}

// allowedName reports whether r may appear in a name or wildcard pattern
func allowedName(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case ' ', '.', '-', '_', '@', '$', '*', '\'', ',', '=', '{', '}':
		return true
	}
	return false
}

// allowedFilter reports whether r may appear in a filter fragment
func allowedFilter(r rune) bool {
	if allowedName(r) {
		return true
	}
	switch r {
	case '(', ')', '&', '|', '!', ':', '<', '>', '~':
		return true
	}
	return false
}

// EscapeLike validates a wildcard name pattern and escapes every LDAP
// metacharacter except '*'
func EscapeLike(pattern string) (string, error) {
	if len(pattern) > MaxFilterLength {
		return "", ErrFilterTooLong
	}
	for _, r := range pattern {
		if !allowedName(r) {
			return "", fmt.Errorf("%w: %q", ErrFilterChars, r)
		}
	}

	parts := strings.Split(pattern, "*")
	for i, p := range parts {
		parts[i] = ldap.EscapeFilter(p)
	}
	return strings.Join(parts, "*"), nil
}

// EscapeValue validates and fully escapes an exact-match value
func EscapeValue(value string) (string, error) {
	if len(value) > MaxFilterLength {
		return "", ErrFilterTooLong
	}
	for _, r := range value {
		if !allowedName(r) || r == '*' {
			return "", fmt.Errorf("%w: %q", ErrFilterChars, r)
		}
	}
	return ldap.EscapeFilter(value), nil
}

// CheckFilter validates a caller supplied filter fragment. It must be a
// single parenthesized filter drawn from a restricted character set that
// the LDAP filter compiler accepts.
func CheckFilter(filter string) (string, error) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "", nil
	}
	if len(filter) > MaxFilterLength {
		return "", ErrFilterTooLong
	}
	for _, r := range filter {
		if !allowedFilter(r) {
			return "", fmt.Errorf("%w: %q", ErrFilterChars, r)
		}
	}
	if !strings.HasPrefix(filter, "(") {
		filter = "(" + filter + ")"
	}
	if _, err := ldap.CompileFilter(filter); err != nil {
		return "", fmt.Errorf("%w: %s", ErrFilterSyntax, err.Error())
	}
	return filter, nil
}

// CheckDN validates a distinguished name such as a SearchBase parameter
func CheckDN(dn string) error {
	if len(dn) > MaxFilterLength {
		return ErrFilterTooLong
	}
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("%w: %s", ErrFilterSyntax, err.Error())
	}
	return nil
}

// and combines filter fragments, skipping empty ones
func and(filters ...string) string {
	var parts []string
	for _, f := range filters {
		if f != "" {
			parts = append(parts, f)
		}
	}
	switch len(parts) {
	case 0:
		return "(objectClass=*)"
	case 1:
		return parts[0]
	}
	return "(&" + strings.Join(parts, "") + ")"
}

// Match reports whether name matches an unescaped wildcard pattern,
// case-insensitively. Used by the in-memory provider.
func Match(pattern, name string) bool {
	if pattern == "" {
		return true
	}
	pattern = strings.ToLower(pattern)
	name = strings.ToLower(name)

	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == name
	}

	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]

	last := parts[len(parts)-1]
	for _, p := range parts[1 : len(parts)-1] {
		i := strings.Index(name, p)
		if i < 0 {
			return false
		}
		name = name[i+len(p):]
	}
	return strings.HasSuffix(name, last)
}
