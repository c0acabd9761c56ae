/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

// Package revocation checks whether a client certificate has been revoked,
// using OCSP first and the certificate's CRL distribution points second.
package revocation

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/ocsp"

	"github.com/UnifyEM/diragent/common/cache"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/interfaces"
)

// Event ids
const (
	EventOCSP    = 3301
	EventCRL     = 3302
	EventRevoked = 3303
)

const (
	DefaultTimeout  = 10 * time.Second
	maxResponseSize = 4 << 20
)

var (
	// ErrRevoked means a responder or CRL reported the certificate revoked
	ErrRevoked = errors.New("certificate revoked")

	// ErrUndetermined means no source produced a usable answer
	ErrUndetermined = errors.New("revocation status could not be determined")

	// ErrChain means the chain could not be built to a trusted root
	ErrChain = errors.New("certificate chain invalid")
)

// Checker performs online revocation checks. It is safe for concurrent use.
type Checker struct {
	client  *http.Client
	roots   *x509.CertPool
	timeout time.Duration
	logger  interfaces.Logger
	crls    *cache.Instance
	now     func() time.Time
}

func New(options ...func(*Checker) error) (*Checker, error) {
	c := &Checker{
		client:  &http.Client{},
		timeout: DefaultTimeout,
		now:     time.Now,
	}
	for _, option := range options {
		if err := option(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// WithRoots builds chains against pool, typically the configured client CA
func WithRoots(pool *x509.CertPool) func(*Checker) error {
	return func(c *Checker) error {
		c.roots = pool
		return nil
	}
}

func WithTimeout(d time.Duration) func(*Checker) error {
	return func(c *Checker) error {
		if d > 0 {
			c.timeout = d
		}
		return nil
	}
}

func WithHTTPClient(client *http.Client) func(*Checker) error {
	return func(c *Checker) error {
		if client == nil {
			return errors.New("http client is nil")
		}
		c.client = client
		return nil
	}
}

// WithCRLCache keeps downloaded CRLs for ttl or until their next update,
// whichever is sooner. Zero disables caching.
func WithCRLCache(ttl time.Duration) func(*Checker) error {
	return func(c *Checker) error {
		if ttl < 0 {
			return errors.New("crl cache ttl must not be negative")
		}
		c.crls = nil
		if ttl > 0 {
			c.crls = cache.New(ttl, nil)
		}
		return nil
	}
}

func WithLogger(logger interfaces.Logger) func(*Checker) error {
	return func(c *Checker) error {
		c.logger = logger
		return nil
	}
}

// Check validates the chain and the revocation status of the leaf, bounded
// by the configured timeout. chain[0] is the leaf as presented by the peer.
// A nil error means the leaf is known to be good.
func (c *Checker) Check(ctx context.Context, chain []*x509.Certificate) error {
	if len(chain) == 0 {
		return fmt.Errorf("%w: no certificate", ErrChain)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	leaf := chain[0]
	issuer, err := c.issuer(chain)
	if err != nil {
		return err
	}

	var reasons []string

	for _, server := range leaf.OCSPServer {
		err = c.ocsp(ctx, server, leaf, issuer)
		if err == nil || errors.Is(err, ErrRevoked) {
			c.result(EventOCSP, server, leaf, err)
			return err
		}
		reasons = append(reasons, err.Error())
		c.debug(EventOCSP, server, err)
	}

	for _, point := range leaf.CRLDistributionPoints {
		err = c.crl(ctx, point, leaf, issuer)
		if err == nil || errors.Is(err, ErrRevoked) {
			c.result(EventCRL, point, leaf, err)
			return err
		}
		reasons = append(reasons, err.Error())
		c.debug(EventCRL, point, err)
	}

	if ctx.Err() != nil {
		reasons = append(reasons, "timed out after "+c.timeout.String())
	}
	if len(reasons) == 0 {
		return fmt.Errorf("%w: certificate has no OCSP responder or CRL distribution point", ErrUndetermined)
	}
	return fmt.Errorf("%w: %s", ErrUndetermined, strings.Join(reasons, "; "))
}

// issuer returns the certificate that signed the leaf. With roots configured
// the chain is verified first and the issuer comes from the verified chain.
func (c *Checker) issuer(chain []*x509.Certificate) (*x509.Certificate, error) {
	leaf := chain[0]

	if c.roots != nil {
		intermediates := x509.NewCertPool()
		for _, cert := range chain[1:] {
			intermediates.AddCert(cert)
		}
		verified, err := leaf.Verify(x509.VerifyOptions{
			Roots:         c.roots,
			Intermediates: intermediates,
			CurrentTime:   c.now(),
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s", ErrChain, err.Error())
		}
		if len(verified) == 0 || len(verified[0]) < 2 {
			return nil, fmt.Errorf("%w: certificate is self-signed", ErrChain)
		}
		return verified[0][1], nil
	}

	for _, cert := range chain[1:] {
		if leaf.CheckSignatureFrom(cert) == nil {
			return cert, nil
		}
	}
	return nil, fmt.Errorf("%w: issuer not presented and no client CA configured", ErrChain)
}

func (c *Checker) ocsp(ctx context.Context, server string, leaf, issuer *x509.Certificate) error {
	reqDER, err := ocsp.CreateRequest(leaf, issuer, &ocsp.RequestOptions{Hash: crypto.SHA1})
	if err != nil {
		return fmt.Errorf("ocsp request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(reqDER))
	if err != nil {
		return fmt.Errorf("ocsp %s: %w", server, err)
	}
	httpReq.Header.Set("Content-Type", "application/ocsp-request")
	httpReq.Header.Set("Accept", "application/ocsp-response")

	body, err := c.fetch(httpReq)
	if err != nil {
		return fmt.Errorf("ocsp %s: %w", server, err)
	}

	resp, err := ocsp.ParseResponseForCert(body, leaf, issuer)
	if err != nil {
		return fmt.Errorf("ocsp %s: %w", server, err)
	}

	now := c.now()
	if !resp.NextUpdate.IsZero() && now.After(resp.NextUpdate) {
		return fmt.Errorf("ocsp %s: response expired at %s", server, resp.NextUpdate.UTC().Format(time.RFC3339))
	}

	switch resp.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return fmt.Errorf("%w: ocsp %s reports revocation at %s", ErrRevoked, server, resp.RevokedAt.UTC().Format(time.RFC3339))
	default:
		return fmt.Errorf("ocsp %s: status unknown", server)
	}
}

func (c *Checker) crl(ctx context.Context, point string, leaf, issuer *x509.Certificate) error {
	if !strings.HasPrefix(point, "http://") && !strings.HasPrefix(point, "https://") {
		return fmt.Errorf("crl %s: unsupported scheme", point)
	}

	var body []byte
	if c.crls != nil {
		body = c.crls.Get(point)
	}
	cached := body != nil
	if !cached {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, point, nil)
		if err != nil {
			return fmt.Errorf("crl %s: %w", point, err)
		}
		if body, err = c.fetch(httpReq); err != nil {
			return fmt.Errorf("crl %s: %w", point, err)
		}
	}

	list, err := x509.ParseRevocationList(body)
	if err != nil {
		return fmt.Errorf("crl %s: %w", point, err)
	}
	if err = list.CheckSignatureFrom(issuer); err != nil {
		return fmt.Errorf("crl %s: %w", point, err)
	}
	if !list.NextUpdate.IsZero() && c.now().After(list.NextUpdate) {
		return fmt.Errorf("crl %s: expired at %s", point, list.NextUpdate.UTC().Format(time.RFC3339))
	}
	if c.crls != nil && !cached {
		c.crls.SetUntil(point, body, list.NextUpdate)
	}

	for _, entry := range list.RevokedCertificateEntries {
		if entry.SerialNumber != nil && entry.SerialNumber.Cmp(leaf.SerialNumber) == 0 {
			return fmt.Errorf("%w: listed in crl %s at %s", ErrRevoked, point, entry.RevocationTime.UTC().Format(time.RFC3339))
		}
	}
	return nil
}

func (c *Checker) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize+1))
	if err != nil {
		return nil, err
	}
	if len(body) > maxResponseSize {
		return nil, errors.New("response too large")
	}
	return body, nil
}

func (c *Checker) result(eid uint32, source string, leaf *x509.Certificate, err error) {
	if c.logger == nil {
		return
	}
	f := fields.NewFields(
		fields.NewField("source", source),
		fields.NewField("subject", leaf.Subject.String()),
		fields.NewField("serial", leaf.SerialNumber.String()),
	)
	if err != nil {
		f.Append(fields.NewField("error", err.Error()))
		c.logger.Warning(EventRevoked, "client certificate revoked", f)
		return
	}
	c.logger.Debug(eid, "revocation check passed", f)
}

func (c *Checker) debug(eid uint32, source string, err error) {
	if c.logger == nil {
		return
	}
	c.logger.Debug(eid, "revocation source inconclusive", fields.NewFields(
		fields.NewField("source", source),
		fields.NewField("error", err.Error())))
}
