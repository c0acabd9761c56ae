/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package thumbprint derives comparable identities from X.509 certificates.
// A thumbprint is the uppercase hex hash of the certificate's DER encoding.
// SHA-1 thumbprints match what Windows certificate tooling displays, SHA-256
// thumbprints are accepted as well.
package thumbprint

import (
	"crypto/sha1"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
)

// SHA1 returns the uppercase hex SHA-1 thumbprint of the certificate
func SHA1(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha1.Sum(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// SHA256 returns the uppercase hex SHA-256 thumbprint of the certificate
func SHA256(cert *x509.Certificate) string {
	if cert == nil {
		return ""
	}
	sum := sha256.Sum256(cert.Raw)
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// Normalize strips separators and invisible characters that are commonly
// introduced by copying a thumbprint out of a certificate viewer, then
// uppercases the result
func Normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ':' || r == '-' || unicode.IsSpace(r):
			continue
		case !unicode.IsPrint(r) || unicode.Is(unicode.Cf, r):
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

// Valid reports whether s is a normalized SHA-1 or SHA-256 thumbprint
func Valid(s string) bool {
	if len(s) != sha1.Size*2 && len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

// AllowList is an immutable set of normalized thumbprints
type AllowList struct {
	entries map[string]struct{}
}

// NewAllowList normalizes and validates every entry. Empty entries are
// ignored; malformed entries are an error.
func NewAllowList(thumbprints []string) (*AllowList, error) {
	a := &AllowList{entries: make(map[string]struct{}, len(thumbprints))}
	for _, raw := range thumbprints {
		t := Normalize(raw)
		if t == "" {
			continue
		}
		if !Valid(t) {
			return nil, fmt.Errorf("invalid certificate thumbprint: %q", raw)
		}
		a.entries[t] = struct{}{}
	}
	return a, nil
}

// Len returns the number of allowed thumbprints
func (a *AllowList) Len() int {
	if a == nil {
		return 0
	}
	return len(a.entries)
}

// ContainsThumbprint checks a thumbprint string, case-insensitively
func (a *AllowList) ContainsThumbprint(t string) bool {
	if a == nil {
		return false
	}
	_, ok := a.entries[Normalize(t)]
	return ok
}

// Contains checks the certificate's SHA-1 and SHA-256 thumbprints
func (a *AllowList) Contains(cert *x509.Certificate) bool {
	if a == nil || cert == nil {
		return false
	}
	if _, ok := a.entries[SHA1(cert)]; ok {
		return true
	}
	_, ok := a.entries[SHA256(cert)]
	return ok
}
