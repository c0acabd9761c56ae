/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package signing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"fmt"

	"github.com/UnifyEM/diragent/common/schema"
)

// CheckCertificate returns ErrNoUsableKey if the certificate cannot be used
// to verify signatures. It is intended for startup validation.
func CheckCertificate(cert *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("no certificate: %w", ErrNoUsableKey)
	}
	switch cert.PublicKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
		return nil
	}
	return fmt.Errorf("%s: %w", cert.Subject.CommonName, ErrNoUsableKey)
}

// CheckKeyPair confirms that key can sign and that cert verifies what it
// signs. Any failure is a configuration error and should stop startup.
func CheckKeyPair(cert *x509.Certificate, key crypto.PrivateKey) error {
	if err := CheckCertificate(cert); err != nil {
		return err
	}

	probe := schema.Request{
		RequestID:            "startup-check",
		ActionName:           "Ping",
		TimestampUnixSeconds: 1,
		Nonce:                "startup-check",
		Parameters:           schema.Parameters{"probe": "1"},
	}

	sig, err := Sign(probe, key)
	if err != nil {
		return fmt.Errorf("signing key check failed: %w", err)
	}
	probe.Signature = sig

	if !Verify(probe, cert) {
		return fmt.Errorf("private key does not match certificate %s: %w", cert.Subject.CommonName, ErrNoUsableKey)
	}
	return nil
}
