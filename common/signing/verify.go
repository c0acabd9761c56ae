/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"math/big"

	"github.com/UnifyEM/diragent/common/schema"
)

// Verify checks req.Signature against the certificate's public key. It fails
// closed: a missing or malformed signature, a missing certificate, or a key
// that is neither RSA nor ECDSA all return false. It never panics.
//
//goland:noinspection GoUnusedExportedFunction
func Verify(req schema.Request, cert *x509.Certificate) (valid bool) {
	defer func() {
		if recover() != nil {
			valid = false
		}
	}()

	if cert == nil || req.Signature == "" {
		return false
	}
	return VerifyWithKey(req, cert.PublicKey)
}

// VerifyWithKey is Verify for a bare public key
func VerifyWithKey(req schema.Request, pub crypto.PublicKey) bool {
	if req.Signature == "" || pub == nil {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(req.Signature)
	if err != nil || len(sig) == 0 {
		return false
	}

	hash := sha256.Sum256(Canonicalize(req))

	// RSA first, then ECDSA
	if k, ok := pub.(*rsa.PublicKey); ok {
		return rsa.VerifyPKCS1v15(k, crypto.SHA256, hash[:], sig) == nil
	}

	if k, ok := pub.(*ecdsa.PublicKey); ok {
		size := curveBytes(k)
		if len(sig) == 2*size {
			r := new(big.Int).SetBytes(sig[:size])
			s := new(big.Int).SetBytes(sig[size:])
			if ecdsa.Verify(k, hash[:], r, s) {
				return true
			}
		}
		// Some signers emit ASN.1 DER instead of r||s
		return ecdsa.VerifyASN1(k, hash[:], sig)
	}

	return false
}
