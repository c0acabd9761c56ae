/******************************************************************************
 * Copyright (c) 2024-2026 Tenebris Technologies Inc.                         *
 * Please see the LICENSE file for details                                    *
 ******************************************************************************/

package host

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/UnifyEM/diragent/agent/metrics"
	"github.com/UnifyEM/diragent/agent/revocation"
	"github.com/UnifyEM/diragent/common/audit"
	"github.com/UnifyEM/diragent/common/fields"
	"github.com/UnifyEM/diragent/common/schema"
	"github.com/UnifyEM/diragent/common/signing"
	"github.com/UnifyEM/diragent/common/thumbprint"
	"github.com/UnifyEM/diragent/common/userver"
)

// exchange carries one request through the gates
type exchange struct {
	r     *http.Request
	w     http.ResponseWriter
	p     *policy
	now   time.Time
	leaf  *x509.Certificate
	req   schema.Request
	entry audit.Entry
}

// outcome is the response a gate or the dispatcher produced
type outcome struct {
	status int
	resp   schema.Response
}

func reject(status int, requestID, code, message string) *outcome {
	return &outcome{status: status, resp: schema.NewFailure(requestID, code, message, 0)}
}

// ServeHTTP runs the admission pipeline
func (h *Host) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := h.clock.Now()
	p := h.policy.Load()

	x := &exchange{
		r:   r,
		w:   w,
		p:   p,
		now: start,
		entry: audit.Entry{
			Time:       start.UTC(),
			Transport:  audit.TransportHTTPS,
			RemoteAddr: userver.RemoteIP(r),
		},
	}

	// Requests waiting for a slot are released by shutdown as well as by
	// the client going away
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(h.ctx, cancel)
	defer stop()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		x.entry.Status = "Aborted"
		x.entry.ErrorCode = schema.CodeCanceled
		x.entry.DurationMs = h.clock.Now().Sub(start).Milliseconds()
		h.audit.Record(x.entry)
		h.logger.Info(EventAborted, "request abandoned while waiting for a slot", fields.NewFields(
			fields.NewField("remote_addr", x.entry.RemoteAddr),
			fields.NewField("error", err.Error())))
		panic(http.ErrAbortHandler)
	}
	release := h.metrics.Acquired()

	var out *outcome
	defer func() {
		if v := recover(); v != nil {
			if v == http.ErrAbortHandler {
				p.sem.Release(1)
				release()
				panic(v)
			}
			h.logger.Error(EventPanic, "request pipeline panicked", fields.NewFields(
				fields.NewField("panic", fmt.Sprint(v)),
				fields.NewField("stack", string(debug.Stack()))))
			out = reject(http.StatusInternalServerError, x.req.RequestID, schema.CodeInternalError, "internal error")
			h.write(x, out)
		}
		p.sem.Release(1)
		release()
		h.finish(x, out, start)
	}()

	out = h.admit(ctx, x)
	if out == nil {
		resp := h.dispatcher.Execute(ctx, x.req, p.settings)
		out = &outcome{status: http.StatusOK, resp: resp}
	}
	h.write(x, out)
}

// admit runs gates 2 to 8. It returns nil when the request may be dispatched.
func (h *Host) admit(ctx context.Context, x *exchange) *outcome {
	gates := []func(context.Context, *exchange) *outcome{
		h.checkTransport,
		h.checkSize,
		h.checkCertificate,
		h.checkRate,
		h.parseBody,
		h.checkReplay,
		h.checkSignature,
	}
	for _, gate := range gates {
		if out := gate(ctx, x); out != nil {
			return out
		}
	}
	return nil
}

func (h *Host) checkTransport(_ context.Context, x *exchange) *outcome {
	if x.r.TLS == nil {
		return reject(http.StatusForbidden, "", schema.CodeTLSRequired, "HTTPS is required")
	}
	if x.r.Method != http.MethodPost {
		x.w.Header().Set("Allow", http.MethodPost)
		return reject(http.StatusMethodNotAllowed, "", schema.CodeMethodNotAllowed, "only POST is accepted")
	}
	return nil
}

// checkSize rejects on the declared length and content type before any of
// the body is read, then caps the body reader for chunked requests
func (h *Host) checkSize(_ context.Context, x *exchange) *outcome {
	limit := x.p.settings.MaxRequestBytes

	if x.r.ContentLength > limit {
		return reject(http.StatusRequestEntityTooLarge, "", schema.CodePayloadTooLarge,
			fmt.Sprintf("request body exceeds %d bytes", limit))
	}

	mediaType, _, err := mime.ParseMediaType(x.r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return reject(http.StatusUnsupportedMediaType, "", schema.CodeUnsupportedMedia, "Content-Type must be application/json")
	}

	x.r.Body = http.MaxBytesReader(x.w, x.r.Body, limit)
	return nil
}

func (h *Host) checkCertificate(ctx context.Context, x *exchange) *outcome {
	chain := x.r.TLS.PeerCertificates
	if len(chain) == 0 {
		return reject(http.StatusForbidden, "", schema.CodeClientCertificate, "a client certificate is required")
	}

	x.leaf = chain[0]
	x.entry.Thumbprint = thumbprint.SHA1(x.leaf)
	x.entry.Subject = x.leaf.Subject.String()

	if !x.p.settings.AllowList.Contains(x.leaf) {
		return reject(http.StatusForbidden, "", schema.CodeClientCertificate, "client certificate is not allowed")
	}

	if x.now.Before(x.leaf.NotBefore) || x.now.After(x.leaf.NotAfter) {
		return reject(http.StatusForbidden, "", schema.CodeClientCertificate, "client certificate is outside its validity period")
	}

	if x.p.clientCAs != nil {
		intermediates := x509.NewCertPool()
		for _, c := range chain[1:] {
			intermediates.AddCert(c)
		}
		_, err := x.leaf.Verify(x509.VerifyOptions{
			Roots:         x.p.clientCAs,
			Intermediates: intermediates,
			CurrentTime:   x.now,
			KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		})
		if err != nil {
			return reject(http.StatusForbidden, "", schema.CodeClientCertificate, "client certificate chain is not trusted")
		}
	}

	if !x.p.settings.EnforceRevocationCheck || x.p.revocation == nil {
		return nil
	}

	err := x.p.revocation.Check(ctx, chain)
	if err == nil {
		return nil
	}

	f := fields.NewFields(
		fields.NewField("thumbprint", x.entry.Thumbprint),
		fields.NewField("subject", x.entry.Subject),
		fields.NewField("error", err.Error()))

	// Fail-open only covers an undetermined status; a revoked certificate
	// is always rejected
	if x.p.settings.FailOpenOnRevocation && !errors.Is(err, revocation.ErrRevoked) {
		h.logger.Warning(EventFailOpen, "revocation check failed, admitting because fail_open_on_revocation is set", f)
		return nil
	}

	h.logger.Warning(EventRevocation, "revocation check failed", f)
	return reject(http.StatusForbidden, "", schema.CodeClientCertificate, "client certificate revocation check failed")
}

func (h *Host) checkRate(_ context.Context, x *exchange) *outcome {
	if !x.p.limiter.TryAcquire(x.entry.Thumbprint) {
		return reject(http.StatusTooManyRequests, "", schema.CodeRateLimited, "rate limit exceeded")
	}
	return nil
}

func (h *Host) parseBody(_ context.Context, x *exchange) *outcome {
	body, err := io.ReadAll(x.r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return reject(http.StatusRequestEntityTooLarge, "", schema.CodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
		}
		return reject(http.StatusBadRequest, "", schema.CodeMalformedRequest, "request body could not be read")
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	if err = dec.Decode(&x.req); err != nil {
		x.req = schema.Request{}
		return reject(http.StatusBadRequest, "", schema.CodeMalformedRequest, "request body is not valid JSON")
	}
	if dec.More() {
		x.req = schema.Request{}
		return reject(http.StatusBadRequest, "", schema.CodeMalformedRequest, "unexpected data after the request")
	}

	x.entry.RequestID = x.req.RequestID
	x.entry.Action = x.req.ActionName
	x.entry.CorrelationID = x.req.CorrelationID

	if x.req.RequestID == "" || x.req.ActionName == "" {
		return reject(http.StatusBadRequest, x.req.RequestID, schema.CodeMalformedRequest, "RequestId and ActionName are required")
	}
	return nil
}

func (h *Host) checkReplay(_ context.Context, x *exchange) *outcome {
	if x.req.TimestampUnixSeconds == 0 || x.req.Nonce == "" {
		return reject(http.StatusBadRequest, x.req.RequestID, schema.CodeMissingReplayFields, "TimestampUnixSeconds and Nonce are required")
	}

	skew := x.now.Sub(time.Unix(x.req.TimestampUnixSeconds, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > x.p.settings.ClockSkew {
		return reject(http.StatusBadRequest, x.req.RequestID, schema.CodeRequestExpired,
			fmt.Sprintf("timestamp is more than %s from server time", x.p.settings.ClockSkew))
	}

	if !h.nonces.TryAdd(x.req.Nonce, x.now) {
		return reject(http.StatusConflict, x.req.RequestID, schema.CodeReplayDetected, "nonce has already been used")
	}
	return nil
}

func (h *Host) checkSignature(_ context.Context, x *exchange) *outcome {
	if !x.p.settings.RequireSignedRequests {
		return nil
	}
	if !signing.Verify(x.req, x.leaf) {
		return reject(http.StatusForbidden, x.req.RequestID, schema.CodeSignatureInvalid, "request signature is invalid")
	}
	return nil
}

// write sends the response with the fixed header set
func (h *Host) write(x *exchange, out *outcome) {
	hdr := x.w.Header()
	hdr.Set("Content-Type", "application/json")
	hdr.Set("X-Content-Type-Options", "nosniff")
	hdr.Set("Cache-Control", "no-store")
	x.w.WriteHeader(out.status)

	if err := json.NewEncoder(x.w).Encode(out.resp); err != nil {
		h.logger.Debug(EventWrite, "failed to write response", fields.NewFields(
			fields.NewField("request_id", out.resp.RequestID),
			fields.NewField("error", err.Error())))
	}
}

// finish records the single audit entry and the metrics for a request
func (h *Host) finish(x *exchange, out *outcome, start time.Time) {
	duration := h.clock.Now().Sub(start)
	x.entry.DurationMs = duration.Milliseconds()

	if out != nil {
		x.entry.HTTPStatus = out.status
		x.entry.Status = string(out.resp.Status)
		x.entry.ErrorCode = out.resp.ErrorCode()
	}
	h.audit.Record(x.entry)
	h.metrics.RecordRequest(metrics.TransportHTTPS, x.entry.HTTPStatus, x.entry.ErrorCode, duration)
}
