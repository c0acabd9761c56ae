/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package broker

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/UnifyEM/diragent/common/certstore"
)

// TLSConfig returns the client TLS configuration for the broker connection.
// The agent presents its own certificate. When caFile is set only that CA is
// trusted, otherwise the system roots are used.
func TLSConfig(identity *certstore.Identity, caFile string) (*tls.Config, error) {
	if identity == nil {
		return nil, errors.New("agent identity is required")
	}

	var roots *x509.CertPool
	var err error
	if caFile != "" {
		roots, err = certstore.LoadPool(caFile)
		if err != nil {
			return nil, fmt.Errorf("broker CA: %w", err)
		}
	} else {
		// Load system root CA certificates
		roots, err = x509.SystemCertPool()
		if err != nil {
			return nil, fmt.Errorf("system roots: %w", err)
		}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{identity.TLS()},
		RootCAs:      roots,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
