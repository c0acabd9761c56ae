/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package signing produces and checks detached request signatures. A
// request is reduced to a canonical byte string that both sides can compute
// independently, then signed with SHA-256 and the key type exposed by the
// signer's certificate: RSA PKCS#1 v1.5 or ECDSA.
package signing

import (
	"strconv"
	"strings"

	"github.com/UnifyEM/diragent/common/schema"
)

const (
	fieldSeparator = "|"
	pairSeparator  = "&"
)

// Canonicalize returns the UTF-8 encoding of
//
//	RequestId|ActionName|TimestampUnixSeconds|Nonce|CorrelationId|k1=v1&k2=v2
//
// Parameter pairs are ordered case-insensitively by key with ordinal
// tie-breaking. The Signature field is never included.
func Canonicalize(req schema.Request) []byte {
	var b strings.Builder

	b.WriteString(req.RequestID)
	b.WriteString(fieldSeparator)
	b.WriteString(req.ActionName)
	b.WriteString(fieldSeparator)
	b.WriteString(strconv.FormatInt(req.TimestampUnixSeconds, 10))
	b.WriteString(fieldSeparator)
	b.WriteString(req.Nonce)
	b.WriteString(fieldSeparator)
	b.WriteString(req.CorrelationID)
	b.WriteString(fieldSeparator)

	for i, k := range req.Parameters.Keys() {
		if i > 0 {
			b.WriteString(pairSeparator)
		}
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(req.Parameters[k])
	}

	return []byte(b.String())
}
