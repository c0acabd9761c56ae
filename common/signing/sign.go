/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/UnifyEM/diragent/common/schema"
)

// ErrNoUsableKey means neither an RSA nor an ECDSA key is available
var ErrNoUsableKey = errors.New("certificate has no usable RSA or ECDSA key")

// Sign signs the canonical form of req with SHA-256. RSA keys produce a
// PKCS#1 v1.5 signature; ECDSA keys produce r||s, each padded to the curve
// size. The result is base64 encoded.
//
//goland:noinspection GoUnusedExportedFunction
func Sign(req schema.Request, key crypto.PrivateKey) (string, error) {
	hash := sha256.Sum256(Canonicalize(req))

	switch k := key.(type) {
	case *rsa.PrivateKey:
		sig, err := rsa.SignPKCS1v15(rand.Reader, k, crypto.SHA256, hash[:])
		if err != nil {
			return "", fmt.Errorf("failed to sign request: %w", err)
		}
		return base64.StdEncoding.EncodeToString(sig), nil

	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, k, hash[:])
		if err != nil {
			return "", fmt.Errorf("failed to sign request: %w", err)
		}

		// Encode signature (r || s), each left-padded to the curve size
		size := curveBytes(&k.PublicKey)
		rBytes := r.Bytes()
		sBytes := s.Bytes()
		signature := make([]byte, 2*size)
		copy(signature[size-len(rBytes):size], rBytes)
		copy(signature[2*size-len(sBytes):], sBytes)
		return base64.StdEncoding.EncodeToString(signature), nil

	default:
		return "", ErrNoUsableKey
	}
}

// SignRequest signs req and stores the signature in it
func SignRequest(req *schema.Request, key crypto.PrivateKey) error {
	sig, err := Sign(*req, key)
	if err != nil {
		return err
	}
	req.Signature = sig
	return nil
}

func curveBytes(pub *ecdsa.PublicKey) int {
	return (pub.Curve.Params().BitSize + 7) / 8
}
