/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package certstore loads certificates and private keys from PEM files or
// PKCS#12 (PFX) bundles as exported by Windows certificate stores.
package certstore

import (
	"crypto"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pkcs12"

	"github.com/UnifyEM/diragent/common/signing"
)

// Identity is a certificate together with the matching private key
type Identity struct {
	Cert  *x509.Certificate
	Chain []*x509.Certificate // intermediates, may be empty
	Key   crypto.Signer
}

// TLS returns the identity as a tls.Certificate
func (i *Identity) TLS() tls.Certificate {
	c := tls.Certificate{
		Certificate: [][]byte{i.Cert.Raw},
		PrivateKey:  i.Key,
		Leaf:        i.Cert,
	}
	for _, ic := range i.Chain {
		c.Certificate = append(c.Certificate, ic.Raw)
	}
	return c
}

// Check confirms the key can sign and matches the certificate
func (i *Identity) Check() error {
	return signing.CheckKeyPair(i.Cert, i.Key)
}

// Load chooses PFX when pfxFile is set and PEM otherwise
func Load(certFile, keyFile, pfxFile, pfxPassword string) (*Identity, error) {
	if pfxFile != "" {
		return LoadPFX(pfxFile, pfxPassword)
	}
	if certFile == "" || keyFile == "" {
		return nil, errors.New("certificate and key files are required")
	}
	return LoadPEM(certFile, keyFile)
}

// LoadPEM reads a certificate chain and a private key from PEM files
func LoadPEM(certFile, keyFile string) (*Identity, error) {
	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return fromTLS(pair)
}

// LoadPFX reads a single-certificate PKCS#12 bundle
func LoadPFX(pfxFile, password string) (*Identity, error) {
	data, err := os.ReadFile(pfxFile)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", pfxFile, err)
	}

	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", pfxFile, err)
	}

	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("%s: %w", pfxFile, signing.ErrNoUsableKey)
	}
	return &Identity{Cert: cert, Key: signer}, nil
}

// LoadPool reads one or more PEM certificates into a pool
func LoadPool(file string) (*x509.CertPool, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", file)
	}
	return pool, nil
}

// LoadCertificate reads the first certificate from a PEM or DER file
func LoadCertificate(file string) (*x509.Certificate, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file, err)
	}
	return ParseCertificate(data)
}

// ParseCertificate accepts PEM or DER input
func ParseCertificate(data []byte) (*x509.Certificate, error) {
	if strings.Contains(string(data), "-----BEGIN") {
		for {
			var block *pem.Block
			block, data = pem.Decode(data)
			if block == nil {
				return nil, errors.New("no CERTIFICATE block found")
			}
			if block.Type == "CERTIFICATE" {
				return x509.ParseCertificate(block.Bytes)
			}
		}
	}
	return x509.ParseCertificate(data)
}

func fromTLS(pair tls.Certificate) (*Identity, error) {
	if len(pair.Certificate) == 0 {
		return nil, errors.New("no certificate in key pair")
	}

	leaf := pair.Leaf
	if leaf == nil {
		var err error
		leaf, err = x509.ParseCertificate(pair.Certificate[0])
		if err != nil {
			return nil, fmt.Errorf("parse certificate: %w", err)
		}
	}

	signer, ok := pair.PrivateKey.(crypto.Signer)
	if !ok {
		return nil, signing.ErrNoUsableKey
	}

	id := &Identity{Cert: leaf, Key: signer}
	for _, der := range pair.Certificate[1:] {
		c, err := x509.ParseCertificate(der)
		if err != nil {
			return nil, fmt.Errorf("parse chain certificate: %w", err)
		}
		id.Chain = append(id.Chain, c)
	}
	return id, nil
}
